package pinchsense

import "math"

// TwoStageDetector gates on band-passed TKEO energy and verifies candidate
// shape against learned templates. Stage one is cheap and liberal; stage two
// is the shape check that rejects non-pinch transients.
type TwoStageDetector struct {
	cfg      Config
	verifier *TemplateVerifier

	accelBaseline  *BaselineTracker
	gyroBaseline   *BaselineTracker
	fusionBaseline *BaselineTracker

	lastEventTime float64
}

// NewTwoStageDetector validates the config and builds per-instance baseline
// trackers for the accelerometer, gyroscope and fusion channels.
func NewTwoStageDetector(cfg Config) (*TwoStageDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.TwoStage
	return &TwoStageDetector{
		cfg:            cfg,
		verifier:       NewTemplateVerifier(p.TemplateLength, p.TemplateMaxLag, p.TemplateConfidence),
		accelBaseline:  NewBaselineTracker(p.BaselineAlpha, p.HampelK),
		gyroBaseline:   NewBaselineTracker(p.BaselineAlpha, p.HampelK),
		fusionBaseline: NewBaselineTracker(p.BaselineAlpha, p.HampelK),
		lastEventTime:  math.Inf(-1),
	}, nil
}

// Verifier exposes the template set for calibration and persistence.
func (d *TwoStageDetector) Verifier() *TemplateVerifier { return d.verifier }

// CriticalConfig returns the parameters templates must be trained under.
func (d *TwoStageDetector) CriticalConfig() CriticalConfig {
	p := d.cfg.TwoStage
	return CriticalConfig{
		FS:             p.FS,
		BandpassLow:    p.BandpassLow,
		BandpassHigh:   p.BandpassHigh,
		TemplateLength: float64(p.TemplateLength),
	}
}

// Preprocess runs the stage-one signal chain over a session: band-pass per
// axis, per-axis TKEO, L2 fold, then modality fusion. Template extraction
// uses the same chain so training and detection stay self-consistent.
func (d *TwoStageDetector) Preprocess(stream *SensorStream) (accTKEO, gyroTKEO, fusion []float64) {
	p := d.cfg.TwoStage
	fs := stream.FS
	accBP := BandPassXYZ(stream.AccXYZ, fs, p.BandpassLow, p.BandpassHigh)
	gyroBP := BandPassXYZ(stream.GyroXYZ, fs, p.BandpassLow, p.BandpassHigh)
	accTKEO = TKEOFuseAxes(accBP)
	gyroTKEO = TKEOFuseAxes(gyroBP)
	fusion = CombineTKEO(accTKEO, gyroTKEO, p)
	return accTKEO, gyroTKEO, fusion
}

// AddCalibrationTemplates extracts template windows centered on known event
// indices from a precomputed fusion score.
func (d *TwoStageDetector) AddCalibrationTemplates(fusion []float64, eventIndices []int) int {
	half := d.cfg.TwoStage.TemplateLength / 2
	added := 0
	for _, idx := range eventIndices {
		start := idx - half
		if start < 0 {
			start = 0
		}
		end := start + d.cfg.TwoStage.TemplateLength
		if end > len(fusion) {
			continue
		}
		d.verifier.AddTemplate(fusion[start:end])
		added++
	}
	return added
}

// validateSamplingRate warns when the measured rate deviates from the
// configured one by more than 2%, and returns the measured rate for all
// time-to-sample conversions.
func (d *TwoStageDetector) validateSamplingRate(stream *SensorStream) float64 {
	p := d.cfg.TwoStage
	n := stream.Len()
	if n < 2 {
		return p.FS
	}
	duration := stream.Time[n-1] - stream.Time[0]
	if duration <= 0 {
		return p.FS
	}
	measured := float64(n-1) / duration
	deviation := math.Abs(measured-p.FS) / p.FS * 100
	if deviation > 2.0 {
		d.cfg.warnf("sampling rate mismatch: configured %.1f Hz, measured %.1f Hz (%.1f%% off)", p.FS, measured, deviation)
	}
	return measured
}

// Process runs the full two-stage pipeline over a session. Templates must
// be added (or loaded) first; with an empty template set, verification
// reports (0, false) and no events emit, unless template_confidence is at
// or below 0.05, which accepts every gated window.
func (d *TwoStageDetector) Process(stream *SensorStream) (*Result, error) {
	if err := stream.Validate(d.cfg.Analysis.MinDurationS); err != nil {
		return nil, err
	}
	p := d.cfg.TwoStage
	fs := d.validateSamplingRate(stream)

	accTKEO, gyroTKEO, fusion := d.Preprocess(stream)
	n := len(fusion)

	accThr := make([]float64, n)
	gyroThr := make([]float64, n)
	fusionThr := make([]float64, n)
	templateScores := make([]float64, 0, n)
	gateEvents := make([]GateEvent, 0, 32)
	events := make([]Event, 0, 16)

	verifyWin := int(math.Round(p.VerificationWindowS * fs))
	warmup := int(math.Round(p.WarmupS * fs))

	for i := 0; i < n; i++ {
		d.accelBaseline.Update(accTKEO[i])
		d.gyroBaseline.Update(gyroTKEO[i])
		d.fusionBaseline.Update(fusion[i])

		accThr[i] = d.accelBaseline.Threshold(p.GateKAccel)
		gyroThr[i] = d.gyroBaseline.Threshold(p.GateKGyro)
		fusionThr[i] = d.fusionBaseline.Threshold(p.GateKFusion)

		// The gate stays closed while baselines stabilize.
		if i < warmup {
			continue
		}

		gateTriggered := fusion[i] > fusionThr[i]
		now := stream.Time[i]

		if gateTriggered {
			gateEvents = append(gateEvents, GateEvent{
				Index:           i,
				Time:            now,
				AccTKEO:         accTKEO[i],
				GyroTKEO:        gyroTKEO[i],
				FusionScore:     fusion[i],
				AccThreshold:    accThr[i],
				GyroThreshold:   gyroThr[i],
				FusionThreshold: fusionThr[i],
			})
		}

		if now-d.lastEventTime < p.RefractoryPeriodS {
			templateScores = append(templateScores, 0)
			continue
		}

		var templateScore float64
		var valid bool
		if gateTriggered {
			start := i - verifyWin/2
			if start < 0 {
				start = 0
			}
			end := i + verifyWin/2
			if end > n {
				end = n
			}
			if end-start >= verifyWin {
				templateScore, valid = d.verifier.Verify(fusion[start : start+verifyWin])
				// Tuning shortcut: an ultra-low confidence setting accepts
				// every gated window.
				if d.verifier.confidence <= 0.05 {
					valid = true
					templateScore = 0.8
				}
			}
		}
		templateScores = append(templateScores, templateScore)

		if valid {
			events = append(events, Event{
				Index:      i,
				Time:       now,
				Score:      fusion[i],
				Threshold:  fusionThr[i],
				AccPeak:    accTKEO[i],
				GyroPeak:   gyroTKEO[i],
				Confidence: templateScore,
			})
			d.lastEventTime = now
		}
	}

	return &Result{
		DetectorType:   DetectorTwoStage,
		Events:         events,
		Score:          fusion,
		Threshold:      fusionThr,
		AccTKEO:        accTKEO,
		GyroTKEO:       gyroTKEO,
		AccThreshold:   accThr,
		GyroThreshold:  gyroThr,
		GateEvents:     gateEvents,
		TemplateScores: templateScores,
		Params:         d.cfg,
		Stream:         stream,
	}, nil
}
