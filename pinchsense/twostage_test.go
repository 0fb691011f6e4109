package pinchsense

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// burstStream builds a zero-background session with a 10 Hz burst of the
// given length in both modalities starting at t0.
func burstStream(fs, duration, t0, burstLen float64) *SensorStream {
	s := zeroStream(int(duration*fs), fs)
	start := int(t0 * fs)
	end := int((t0 + burstLen) * fs)
	for i := start; i < end && i < len(s.Time); i++ {
		v := math.Sin(2 * math.Pi * 10 * (s.Time[i] - t0))
		s.AccXYZ[i][0] = 0.5 * v
		s.GyroXYZ[i][1] = 0.8 * v
	}
	s.AccMag = Magnitude(s.AccXYZ)
	s.GyroMag = Magnitude(s.GyroXYZ)
	return s
}

func TestTwoStageBurstWithMatchedTemplate(t *testing.T) {
	// Scenario: a 200 ms 10 Hz burst at t=2 s over a small in-band dither
	// floor, one template learned from the same session's fusion score.
	// The dither keeps the adaptive gate at a sensible level; on a
	// perfectly silent background the sigma floor would open the gate on
	// filter ringing far from the burst. Off-burst windows carry the
	// dither's periodic shape and fail template verification.
	stream := burstStream(100, 10, 2.0, 0.2)
	for i := range stream.Time {
		ti := stream.Time[i]
		d := 0.02*math.Sin(2*math.Pi*7*ti) + 0.015*math.Sin(2*math.Pi*13*ti+1)
		stream.AccXYZ[i][1] += d
		stream.GyroXYZ[i][2] += 1.5 * d
	}
	stream.AccMag = Magnitude(stream.AccXYZ)
	stream.GyroMag = Magnitude(stream.GyroXYZ)

	det, err := NewTwoStageDetector(DefaultConfig())
	require.NoError(t, err)

	_, _, fusion := det.Preprocess(stream)
	added := det.AddCalibrationTemplates(fusion, []int{200})
	require.Equal(t, 1, added)

	res, err := det.Process(stream)
	require.NoError(t, err)

	require.NotEmpty(t, res.Events)
	first := res.Events[0]
	assert.InDelta(t, 2.0, first.Time, 0.2)
	assert.GreaterOrEqual(t, first.Confidence, 0.65)
	for _, ev := range res.Events {
		assert.InDelta(t, 2.1, ev.Time, 0.4, "all events stay near the burst")
	}
}

func TestTwoStageNoTemplatesNoEvents(t *testing.T) {
	stream := burstStream(100, 10, 2.0, 0.2)

	det, err := NewTwoStageDetector(DefaultConfig())
	require.NoError(t, err)
	res, err := det.Process(stream)
	require.NoError(t, err)

	assert.Empty(t, res.Events)
	assert.NotEmpty(t, res.GateEvents, "the gate still fires without templates")
}

func TestTwoStageWarmupSuppressesEarlyBurst(t *testing.T) {
	// A burst inside the warm-up window must not trigger the gate.
	stream := burstStream(100, 10, 0.1, 0.2)

	det, err := NewTwoStageDetector(DefaultConfig())
	require.NoError(t, err)

	_, _, fusion := det.Preprocess(stream)
	det.AddCalibrationTemplates(fusion, []int{10})

	res, err := det.Process(stream)
	require.NoError(t, err)

	cfg := DefaultConfig().TwoStage
	warmup := int(math.Round(cfg.WarmupS * 100))
	for _, ge := range res.GateEvents {
		assert.GreaterOrEqual(t, ge.Index, warmup)
	}
	for _, ev := range res.Events {
		assert.GreaterOrEqual(t, ev.Index, warmup)
	}
}

func TestTwoStageRefractorySpacing(t *testing.T) {
	// Two 200 ms bursts 3 s apart; events must respect the refractory
	// period.
	fs := 100.0
	stream := zeroStream(1000, fs)
	for _, t0 := range []float64{2.0, 5.0} {
		start := int(t0 * fs)
		for i := start; i < start+20; i++ {
			v := math.Sin(2 * math.Pi * 10 * (stream.Time[i] - t0))
			stream.AccXYZ[i][0] = 0.5 * v
			stream.GyroXYZ[i][1] = 0.8 * v
		}
	}
	stream.AccMag = Magnitude(stream.AccXYZ)
	stream.GyroMag = Magnitude(stream.GyroXYZ)

	det, err := NewTwoStageDetector(DefaultConfig())
	require.NoError(t, err)
	_, _, fusion := det.Preprocess(stream)
	det.AddCalibrationTemplates(fusion, []int{200, 500})

	res, err := det.Process(stream)
	require.NoError(t, err)
	require.NotEmpty(t, res.Events)

	cfg := DefaultConfig().TwoStage
	for k := 1; k < len(res.Events); k++ {
		assert.GreaterOrEqual(t, res.Events[k].Time-res.Events[k-1].Time, cfg.RefractoryPeriodS)
	}
}

func TestTwoStageGateObservabilityDuringRefractory(t *testing.T) {
	// Gate triggers are recorded even while refractory suppresses
	// verification.
	stream := burstStream(100, 10, 2.0, 0.3)

	det, err := NewTwoStageDetector(DefaultConfig())
	require.NoError(t, err)
	_, _, fusion := det.Preprocess(stream)
	det.AddCalibrationTemplates(fusion, []int{200})

	res, err := det.Process(stream)
	require.NoError(t, err)
	require.NotEmpty(t, res.Events)

	// Some gate events land after the first event but inside its
	// refractory window.
	first := res.Events[0]
	cfg := DefaultConfig().TwoStage
	inRefractory := 0
	for _, ge := range res.GateEvents {
		if ge.Time > first.Time && ge.Time-first.Time < cfg.RefractoryPeriodS {
			inRefractory++
		}
	}
	assert.Greater(t, inRefractory, 0)
}

func TestTwoStageSamplingRateMismatchWarns(t *testing.T) {
	stream := burstStream(100, 10, 2.0, 0.2)

	cfg := DefaultConfig()
	cfg.TwoStage.FS = 128 // configured well off the measured 100 Hz
	var warnings []string
	cfg.Warn = func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	det, err := NewTwoStageDetector(cfg)
	require.NoError(t, err)
	_, err = det.Process(stream)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
}

func TestTwoStageDebugBypassAcceptsGatedWindows(t *testing.T) {
	// An ultra-low confidence threshold is the tuning shortcut: every gated
	// window verifies even with no matching template shape.
	stream := burstStream(100, 10, 2.0, 0.2)

	cfg := DefaultConfig()
	cfg.TwoStage.TemplateConfidence = 0.05
	det, err := NewTwoStageDetector(cfg)
	require.NoError(t, err)

	// A template is learned as in a calibrated run; the bypass itself does
	// not consult it.
	_, _, fusion := det.Preprocess(stream)
	det.AddCalibrationTemplates(fusion, []int{200})

	res, err := det.Process(stream)
	require.NoError(t, err)
	require.NotEmpty(t, res.Events)
	assert.InDelta(t, 0.8, res.Events[0].Confidence, 1e-12)
}

func TestTwoStageRejectsInvalidBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TwoStage.BandpassHigh = 60 // above Nyquist for 100 Hz
	_, err := NewTwoStageDetector(cfg)
	assert.Error(t, err)
}
