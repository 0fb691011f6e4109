package pinchsense

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHPMovingMeanConstantInput(t *testing.T) {
	x := make([]float64, 200)
	for i := range x {
		x[i] = 3.7
	}
	y := HPMovingMean(x, 100, 0.5)
	require.Len(t, y, len(x))
	for i, v := range y {
		assert.InDelta(t, 0.0, v, 1e-12, "sample %d", i)
	}
}

func TestHPMovingMeanRemovesOffsetKeepsImpulse(t *testing.T) {
	x := make([]float64, 400)
	for i := range x {
		x[i] = 0.5
	}
	x[200] = 1.5

	y := HPMovingMean(x, 100, 0.5)
	// The impulse survives nearly intact; the offset is gone.
	assert.Greater(t, y[200], 0.9)
	assert.InDelta(t, 0.0, y[10], 1e-9)
	assert.InDelta(t, 0.0, y[390], 1e-9)
}

func TestHPMovingMeanWindowOfOne(t *testing.T) {
	x := []float64{1, 2, 3}
	y := HPMovingMean(x, 100, 0.001)
	for i := range y {
		assert.InDelta(t, 0.0, y[i], 1e-12)
	}
}

func TestRobustZConstantSignalIsZero(t *testing.T) {
	x := make([]float64, 300)
	for i := range x {
		x[i] = 42.0
	}
	z := RobustZ(x, 100, 3.0)
	require.Len(t, z, len(x))
	for i, v := range z {
		require.False(t, math.IsNaN(v), "NaN at %d", i)
		require.False(t, math.IsInf(v, 0), "Inf at %d", i)
		assert.InDelta(t, 0.0, v, 1e-9)
	}
}

func TestRobustZFlagsOutlier(t *testing.T) {
	x := make([]float64, 500)
	for i := range x {
		x[i] = math.Sin(float64(i) * 0.37) // deterministic busy background
	}
	x[250] = 50.0

	z := RobustZ(x, 100, 3.0)
	assert.Greater(t, z[250], 10.0)
	assert.Less(t, math.Abs(z[10]), 5.0)
}

func TestRobustZFiniteProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(3, 400).Draw(t, "n")
		x := make([]float64, n)
		for i := range x {
			x[i] = rapid.Float64Range(-100, 100).Draw(t, "x")
		}
		z := RobustZ(x, 100, 1.0)
		for i, v := range z {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite z at %d: %v", i, v)
			}
		}
	})
}

func TestAdaptiveThresholdMonotoneInKMad(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(3, 300).Draw(t, "n")
		x := make([]float64, n)
		for i := range x {
			x[i] = rapid.Float64Range(0, 50).Draw(t, "x")
		}
		k1 := rapid.Float64Range(0.5, 5).Draw(t, "k1")
		k2 := k1 + rapid.Float64Range(0.1, 5).Draw(t, "dk")

		lo := AdaptiveThreshold(x, 100, 3.0, k1)
		hi := AdaptiveThreshold(x, 100, 3.0, k2)
		for i := range lo {
			if hi[i] < lo[i] {
				t.Fatalf("threshold not monotone at %d: k=%.2f gives %.6f, k=%.2f gives %.6f", i, k1, lo[i], k2, hi[i])
			}
		}
	})
}

func TestAdaptiveThresholdAboveMedianBackground(t *testing.T) {
	x := make([]float64, 600)
	for i := range x {
		x[i] = 1.0 + 0.1*math.Sin(float64(i)*0.7)
	}
	thr := AdaptiveThreshold(x, 100, 3.0, 5.5)
	for i, v := range thr {
		assert.Greater(t, v, 1.0, "threshold under median at %d", i)
	}
}

func TestTKEOImpulse(t *testing.T) {
	x := make([]float64, 9)
	x[4] = 2.0
	psi := TKEO(x)

	assert.InDelta(t, 4.0, psi[4], 1e-12) // x^2 at the impulse
	// Neighbors see -x[i-1]*x[i+1] = 0, interior zeros stay zero.
	assert.InDelta(t, 0.0, psi[2], 1e-12)
}

func TestTKEOSinusoidNearConstant(t *testing.T) {
	n := 200
	omega := 2 * math.Pi * 10 / 100 // 10 Hz at 100 Hz
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(omega * float64(i))
	}
	psi := TKEO(x)
	want := math.Sin(omega) * math.Sin(omega)
	for i := 1; i < n-1; i++ {
		assert.InDelta(t, want, psi[i], 1e-9, "interior sample %d", i)
	}
}

func TestTKEONonNegativeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 300).Draw(t, "n")
		x := make([]float64, n)
		for i := range x {
			x[i] = rapid.Float64Range(-1000, 1000).Draw(t, "x")
		}
		for i, v := range TKEO(x) {
			if v < 0 {
				t.Fatalf("negative TKEO at %d: %v", i, v)
			}
		}
	})
}

func TestTKEOShortInput(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, TKEO([]float64{3, 4}))
	assert.Empty(t, TKEO(nil))
}

func TestGradientQuadratic(t *testing.T) {
	dt := 0.01
	n := 100
	x := make([]float64, n)
	for i := range x {
		ti := float64(i) * dt
		x[i] = ti * ti
	}
	g := Gradient(x, dt)
	// d/dt t^2 = 2t, exact for central differences on a quadratic.
	for i := 1; i < n-1; i++ {
		assert.InDelta(t, 2*float64(i)*dt, g[i], 1e-9)
	}
	// One-sided edges.
	assert.InDelta(t, (x[1]-x[0])/dt, g[0], 1e-12)
	assert.InDelta(t, (x[n-1]-x[n-2])/dt, g[n-1], 1e-12)
}

func TestJerkMatchesPerAxisGradient(t *testing.T) {
	n := 50
	xyz := make([][3]float64, n)
	axis := make([]float64, n)
	for i := range xyz {
		xyz[i] = [3]float64{float64(i), 2 * float64(i), 0}
		axis[i] = float64(i)
	}
	j := Jerk(xyz, 0.01)
	g := Gradient(axis, 0.01)
	for i := range j {
		assert.InDelta(t, g[i], j[i][0], 1e-12)
		assert.InDelta(t, 2*g[i], j[i][1], 1e-9)
		assert.InDelta(t, 0.0, j[i][2], 1e-12)
	}
}

func TestMagnitude(t *testing.T) {
	m := Magnitude([][3]float64{{3, 4, 0}, {1, 2, 2}})
	assert.InDelta(t, 5.0, m[0], 1e-12)
	assert.InDelta(t, 3.0, m[1], 1e-12)
}

func sineAmplitude(x []float64) float64 {
	// Peak amplitude over the middle half, away from edge transients.
	lo, hi := len(x)/4, 3*len(x)/4
	peak := 0.0
	for _, v := range x[lo:hi] {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

func TestBandPassPassesInBandRejectsOutOfBand(t *testing.T) {
	const fs = 100.0
	n := 1000
	mk := func(freq float64) []float64 {
		x := make([]float64, n)
		for i := range x {
			x[i] = math.Sin(2 * math.Pi * freq * float64(i) / fs)
		}
		return x
	}

	inBand := BandPass(mk(10), fs, 3, 20)
	assert.Greater(t, sineAmplitude(inBand), 0.8, "10 Hz should pass")

	low := BandPass(mk(0.5), fs, 3, 20)
	assert.Less(t, sineAmplitude(low), 0.1, "0.5 Hz should be rejected")

	high := BandPass(mk(40), fs, 3, 20)
	assert.Less(t, sineAmplitude(high), 0.2, "40 Hz should be attenuated")
}

func TestBandPassZeroPhase(t *testing.T) {
	const fs = 100.0
	n := 1000
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 10 * float64(i) / fs)
	}
	y := BandPass(x, fs, 3, 20)

	// Forward-backward filtering must not shift the waveform: the in-band
	// sine stays in phase with the input.
	var dot, xx, yy float64
	for i := n / 4; i < 3*n/4; i++ {
		dot += x[i] * y[i]
		xx += x[i] * x[i]
		yy += y[i] * y[i]
	}
	corr := dot / math.Sqrt(xx*yy)
	assert.Greater(t, corr, 0.99)
}

func TestBandPassShortInput(t *testing.T) {
	assert.Empty(t, BandPass(nil, 100, 3, 20))
	y := BandPass([]float64{1, 2, 3}, 100, 3, 20)
	assert.Len(t, y, 3)
}

func TestCenteredBounds(t *testing.T) {
	// Odd window: symmetric.
	lo, hi := centeredBounds(10, 100, 5)
	assert.Equal(t, 8, lo)
	assert.Equal(t, 13, hi)
	// Even window leans right.
	lo, hi = centeredBounds(10, 100, 4)
	assert.Equal(t, 9, lo)
	assert.Equal(t, 13, hi)
	// Clipped at the edges.
	lo, hi = centeredBounds(0, 100, 5)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 3, hi)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
	assert.True(t, math.IsNaN(median(nil)))
}
