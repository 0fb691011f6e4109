package pinchsense

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// debugResult builds a stationary result with a wiggly background, one peak
// above the flat threshold and one promising miss below it.
func debugResult(fs float64) *Result {
	n := 1000
	stream := zeroStream(n, fs)
	score := make([]float64, n)
	threshold := make([]float64, n)
	for i := range score {
		score[i] = 1.0 + 0.1*math.Sin(float64(i)*0.7)
		threshold[i] = 4.5
	}
	score[300] = 5.0 // detected
	score[700] = 4.0 // missed by 0.5

	return &Result{
		DetectorType: DetectorStationary,
		Score:        score,
		Threshold:    threshold,
		Params:       DefaultConfig(),
		Stream:       stream,
	}
}

func TestThresholdDebuggerClassifiesPeaks(t *testing.T) {
	dbg := NewThresholdDebugger(DefaultConfig())
	rep, err := dbg.Analyze(debugResult(100))
	require.NoError(t, err)

	assert.Equal(t, 2, rep.AllPeaks)
	assert.Equal(t, 1, rep.AboveThreshold)
	assert.Equal(t, 1, rep.BelowThreshold)

	require.Len(t, rep.MissedPeaks, 1)
	miss := rep.MissedPeaks[0]
	assert.Equal(t, 700, miss.Index)
	assert.InDelta(t, -0.5, miss.Margin, 1e-9)
}

func TestThresholdDebuggerRecommendsLowerKMad(t *testing.T) {
	cfg := DefaultConfig()
	dbg := NewThresholdDebugger(cfg)
	rep, err := dbg.Analyze(debugResult(100))
	require.NoError(t, err)

	require.Greater(t, rep.RecommendedKMad, 0.0)
	assert.Less(t, rep.RecommendedKMad, cfg.Stationary.KMad,
		"catching a missed peak requires a lower k_mad")
	assert.Greater(t, rep.ReductionFactor, 0.0)
	assert.Less(t, rep.ReductionFactor, 1.0)
}

func TestThresholdDebuggerAllPeaksDetected(t *testing.T) {
	n := 1000
	stream := zeroStream(n, 100)
	score := make([]float64, n)
	threshold := make([]float64, n)
	for i := range score {
		score[i] = 1.0 + 0.1*math.Sin(float64(i)*0.7)
		threshold[i] = 3.0
	}
	score[400] = 6.0

	res := &Result{
		DetectorType: DetectorStationary,
		Score:        score,
		Threshold:    threshold,
		Params:       DefaultConfig(),
		Stream:       stream,
	}

	dbg := NewThresholdDebugger(DefaultConfig())
	rep, err := dbg.Analyze(res)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.AllPeaks)
	assert.Zero(t, rep.BelowThreshold)
	assert.Empty(t, rep.MissedPeaks)
	assert.Zero(t, rep.RecommendedKMad)
}

func TestThresholdDebuggerRejectsWrongDetector(t *testing.T) {
	dbg := NewThresholdDebugger(DefaultConfig())
	_, err := dbg.Analyze(&Result{DetectorType: DetectorStreaming})
	assert.Error(t, err)
}

func TestFindPeaksHeightAndProminence(t *testing.T) {
	n := 500
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.2 * math.Sin(float64(i)*0.9) // wiggle below prominence cut
	}
	x[100] = 5.0
	x[250] = 3.0
	x[252] = 2.9 // shoulder of the 250 peak

	peaks := findPeaks(x, 1.0, 1.0, 5)
	assert.Equal(t, []int{100, 250}, peaks)
}

func TestFindPeaksMinDistanceKeepsTaller(t *testing.T) {
	x := make([]float64, 100)
	x[40] = 2.0
	x[43] = 3.0 // taller neighbor 3 samples away

	peaks := findPeaks(x, 0.5, 0.5, 5)
	assert.Equal(t, []int{43}, peaks)
}

func TestProminenceOfIsolatedSpike(t *testing.T) {
	x := make([]float64, 50)
	x[25] = 4.0
	assert.InDelta(t, 4.0, prominence(x, 25), 1e-12)
}
