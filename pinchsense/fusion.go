package pinchsense

import "math"

// Streaming fusion weights: acceleration carries most of the pinch
// signature, rotation sharpens it.
const (
	streamAccWeight  = 0.6
	streamGyroWeight = 0.4
	streamHPAlpha    = 0.99 // ~0.16 Hz single-pole high-pass at 100 Hz
)

// OfflineFusion folds the four robust z components into one non-negative
// excitation score per sample.
func OfflineFusion(zA, zG, zDA, zDG []float64) []float64 {
	out := make([]float64, len(zA))
	for i := range out {
		a := math.Max(zA[i], 0)
		g := math.Max(zG[i], 0)
		da := math.Max(zDA[i], 0)
		dg := math.Max(zDG[i], 0)
		out[i] = math.Sqrt(a*a + g*g + da*da + dg*dg)
	}
	return out
}

// StreamingFusion turns raw sample vectors into a scalar excitation using a
// per-axis single-pole high-pass followed by a weighted magnitude sum. It
// carries IIR state and must be fed samples in order.
type StreamingFusion struct {
	accState  [3]float64
	accPrev   [3]float64
	gyroState [3]float64
	gyroPrev  [3]float64
}

// NewStreamingFusion returns a fusion stage with zeroed filter state.
func NewStreamingFusion() *StreamingFusion {
	return &StreamingFusion{}
}

// Score processes one sample and returns the fused excitation.
func (sf *StreamingFusion) Score(acc, gyro [3]float64) float64 {
	var accMag, gyroMag float64
	for k := 0; k < 3; k++ {
		sf.accState[k] = streamHPAlpha * (sf.accState[k] + acc[k] - sf.accPrev[k])
		sf.accPrev[k] = acc[k]
		accMag += sf.accState[k] * sf.accState[k]

		sf.gyroState[k] = streamHPAlpha * (sf.gyroState[k] + gyro[k] - sf.gyroPrev[k])
		sf.gyroPrev[k] = gyro[k]
		gyroMag += sf.gyroState[k] * sf.gyroState[k]
	}
	return streamAccWeight*math.Sqrt(accMag) + streamGyroWeight*math.Sqrt(gyroMag)
}

// TKEOFuseAxes applies the TKEO per axis of a band-passed triaxial series
// and folds the axes together as the L2 norm of the non-negative energies.
func TKEOFuseAxes(xyz [][3]float64) []float64 {
	n := len(xyz)
	axis := make([]float64, n)
	sum := make([]float64, n)
	for k := 0; k < 3; k++ {
		for i := range xyz {
			axis[i] = xyz[i][k]
		}
		psi := TKEO(axis)
		for i, e := range psi {
			sum[i] += e * e
		}
	}
	out := make([]float64, n)
	for i, s := range sum {
		out[i] = math.Sqrt(s)
	}
	return out
}

// CombineTKEO merges the accelerometer and gyroscope energies into the
// two-stage fusion score. The multiplicative method requires co-activation
// of both modalities before the score rises above noise.
func CombineTKEO(accTKEO, gyroTKEO []float64, p TwoStageParams) []float64 {
	out := make([]float64, len(accTKEO))
	if p.FusionMethod == FusionMultiplicative {
		const eps = 1e-10
		for i := range out {
			out[i] = (p.FusionWeightAccel*accTKEO[i] + eps) * (p.FusionWeightGyro*gyroTKEO[i] + eps)
		}
		return out
	}
	for i := range out {
		out[i] = p.FusionWeightAccel*accTKEO[i] + p.FusionWeightGyro*gyroTKEO[i]
	}
	return out
}
