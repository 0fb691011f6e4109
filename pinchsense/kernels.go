package pinchsense

import (
	"math"
	"sort"
)

// Fixed numerical guards shared by the kernels.
const (
	epsScale   = 1e-9
	sigmaFloor = 1e-6
	madSigma   = 1.4826 // MAD to sigma for Gaussian data
)

// centeredBounds returns the half-open [lo, hi) span of a centered rolling
// window of size w at index i, clipped to [0, n). Even windows lean right,
// matching tabular rolling semantics.
func centeredBounds(i, n, w int) (int, int) {
	lo := i - (w-1)/2
	hi := i + w/2 + 1
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// HPMovingMean subtracts a centered moving mean of span win seconds.
// Boundary windows shrink to the samples available.
func HPMovingMean(x []float64, fs, win float64) []float64 {
	n := len(x)
	w := int(math.Round(win * fs))
	if w < 1 {
		w = 1
	}
	// Prefix sums keep this O(n) for any window size.
	prefix := make([]float64, n+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		lo, hi := centeredBounds(i, n, w)
		mean := (prefix[hi] - prefix[lo]) / float64(hi-lo)
		out[i] = x[i] - mean
	}
	return out
}

// median returns the middle value, averaging the two central elements for
// even counts. scratch is sorted in place.
func median(scratch []float64) float64 {
	n := len(scratch)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(scratch)
	if n%2 == 1 {
		return scratch[n/2]
	}
	return 0.5 * (scratch[n/2-1] + scratch[n/2])
}

// medianOf copies v into scratch and returns its median.
func medianOf(v []float64, scratch []float64) float64 {
	scratch = scratch[:0]
	scratch = append(scratch, v...)
	return median(scratch)
}

// rollingMedianMAD computes the centered rolling median and MAD of x with
// window w. Boundary windows shrink to the samples that are available, so
// the output is always finite for finite input.
func rollingMedianMAD(x []float64, w int) (med, mad []float64) {
	n := len(x)
	med = make([]float64, n)
	mad = make([]float64, n)
	scratch := make([]float64, 0, w)
	dev := make([]float64, 0, w)
	for i := 0; i < n; i++ {
		lo, hi := centeredBounds(i, n, w)
		m := medianOf(x[lo:hi], scratch)
		med[i] = m
		dev = dev[:0]
		for _, v := range x[lo:hi] {
			dev = append(dev, math.Abs(v-m))
		}
		mad[i] = median(dev)
	}
	return med, mad
}

// RobustZ is the rolling robust z-score (x - median) / (1.4826*MAD + eps)
// over a centered window of win seconds. Zero MADs are replaced by the
// global median of the positive MADs, or 1.0 when every window is flat.
func RobustZ(x []float64, fs, win float64) []float64 {
	n := len(x)
	w := int(math.Round(win * fs))
	if w < 3 {
		w = 3
	}
	med, mad := rollingMedianMAD(x, w)

	positive := make([]float64, 0, n)
	for _, d := range mad {
		if d > 0 && !math.IsNaN(d) {
			positive = append(positive, d)
		}
	}
	fill := 1.0
	if len(positive) > 0 {
		fill = median(positive)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		d := mad[i]
		if d == 0 || math.IsNaN(d) {
			d = fill
		}
		out[i] = (x[i] - med[i]) / (madSigma*d + epsScale)
	}
	return out
}

// AdaptiveThreshold computes the rolling median + k*(1.4826*MAD + eps)
// threshold over a centered window of win seconds.
func AdaptiveThreshold(score []float64, fs, win, kMad float64) []float64 {
	n := len(score)
	w := int(math.Round(win * fs))
	if w < 3 {
		w = 3
	}
	med, mad := rollingMedianMAD(score, w)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = med[i] + kMad*(madSigma*mad[i]+epsScale)
	}
	return out
}

// TKEO is the Teager-Kaiser energy operator psi[i] = x[i]^2 - x[i-1]*x[i+1],
// squared at the boundaries and clamped non-negative.
func TKEO(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n < 3 {
		return out
	}
	out[0] = x[0] * x[0]
	out[n-1] = x[n-1] * x[n-1]
	for i := 1; i < n-1; i++ {
		out[i] = x[i]*x[i] - x[i-1]*x[i+1]
	}
	for i := range out {
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}

// Gradient is the central-difference derivative with one-sided edges.
func Gradient(x []float64, dt float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		return out
	}
	out[0] = (x[1] - x[0]) / dt
	out[n-1] = (x[n-1] - x[n-2]) / dt
	for i := 1; i < n-1; i++ {
		out[i] = (x[i+1] - x[i-1]) / (2 * dt)
	}
	return out
}

// Jerk is the time derivative of each axis of a triaxial series.
func Jerk(xyz [][3]float64, dt float64) [][3]float64 {
	n := len(xyz)
	out := make([][3]float64, n)
	axis := make([]float64, n)
	for k := 0; k < 3; k++ {
		for i := range xyz {
			axis[i] = xyz[i][k]
		}
		d := Gradient(axis, dt)
		for i := range d {
			out[i][k] = d[i]
		}
	}
	return out
}

// Magnitude is the per-sample L2 norm of a triaxial series.
func Magnitude(xyz [][3]float64) []float64 {
	out := make([]float64, len(xyz))
	for i, v := range xyz {
		out[i] = math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	}
	return out
}

// Abs returns |x| elementwise.
func Abs(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}
	return out
}

// biquad is one direct-form-I second-order IIR section.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (q biquad) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	var x1, x2, y1, y2 float64
	for i, v := range x {
		y := q.b0*v + q.b1*x1 + q.b2*x2 - q.a1*y1 - q.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, y
		out[i] = y
	}
	return out
}

// butterworthQ is the single-section Q of a 2nd-order Butterworth response.
const butterworthQ = math.Sqrt2 / 2

// designHighpass returns a 2nd-order Butterworth high-pass biquad.
func designHighpass(fs, fc float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cw, sw := math.Cos(w0), math.Sin(w0)
	alpha := sw / (2 * butterworthQ)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cw) / 2 / a0,
		b1: -(1 + cw) / a0,
		b2: (1 + cw) / 2 / a0,
		a1: -2 * cw / a0,
		a2: (1 - alpha) / a0,
	}
}

// designLowpass returns a 2nd-order Butterworth low-pass biquad.
func designLowpass(fs, fc float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cw, sw := math.Cos(w0), math.Sin(w0)
	alpha := sw / (2 * butterworthQ)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cw) / 2 / a0,
		b1: (1 - cw) / a0,
		b2: (1 - cw) / 2 / a0,
		a1: -2 * cw / a0,
		a2: (1 - alpha) / a0,
	}
}

// BandPass applies a zero-phase order-2 Butterworth band-pass (high-pass at
// lo cascaded with low-pass at hi, run forward and backward). The input is
// padded with an odd reflection at both ends to suppress edge transients.
func BandPass(x []float64, fs, lo, hi float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	hp := designHighpass(fs, lo)
	lp := designLowpass(fs, hi)

	pad := 12
	if pad >= n {
		pad = n - 1
	}
	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= pad; i++ {
		ext = append(ext, 2*x[n-1]-x[n-1-i])
	}

	y := lp.apply(hp.apply(ext))
	reverse(y)
	y = lp.apply(hp.apply(y))
	reverse(y)

	out := make([]float64, n)
	copy(out, y[pad:pad+n])
	return out
}

// BandPassXYZ band-passes each axis of a triaxial series independently.
func BandPassXYZ(xyz [][3]float64, fs, lo, hi float64) [][3]float64 {
	n := len(xyz)
	out := make([][3]float64, n)
	axis := make([]float64, n)
	for k := 0; k < 3; k++ {
		for i := range xyz {
			axis[i] = xyz[i][k]
		}
		f := BandPass(axis, fs, lo, hi)
		for i := range f {
			out[i][k] = f[i]
		}
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
