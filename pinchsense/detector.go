package pinchsense

import "fmt"

// Detector type tags.
const (
	DetectorStationary = "stationary"
	DetectorStreaming  = "streaming"
	DetectorTwoStage   = "two-stage"
)

// RunOptions carries per-run switches that are not tuning parameters.
type RunOptions struct {
	CollectRejections bool   // offline: keep the rejection ledger
	TemplateBundle    string // two-stage: bundle to load before processing
	CalibrationIdx    []int  // two-stage: event indices to learn templates from
}

// Run dispatches a session to the named detector and returns the common
// reporter contract.
func Run(stream *SensorStream, cfg Config, detectorType string, opts RunOptions) (*Result, error) {
	switch detectorType {
	case DetectorStationary:
		det, err := NewStationaryDetector(cfg)
		if err != nil {
			return nil, err
		}
		return det.Detect(stream, opts.CollectRejections)

	case DetectorStreaming:
		det, err := NewStreamingDetector(cfg)
		if err != nil {
			return nil, err
		}
		return det.DetectBatch(stream)

	case DetectorTwoStage:
		det, err := NewTwoStageDetector(cfg)
		if err != nil {
			return nil, err
		}
		if opts.TemplateBundle != "" {
			if err := det.Verifier().LoadBundle(opts.TemplateBundle, det.CriticalConfig(), cfg.warnf); err != nil {
				return nil, err
			}
		}
		if len(opts.CalibrationIdx) > 0 {
			_, _, fusion := det.Preprocess(stream)
			det.AddCalibrationTemplates(fusion, opts.CalibrationIdx)
		}
		return det.Process(stream)

	default:
		return nil, fmt.Errorf("unknown detector type %q", detectorType)
	}
}
