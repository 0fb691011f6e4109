package pinchsense

import (
	"fmt"
	"math"
)

// SensorStream holds one loaded session of wrist IMU data.
// It is built once by the loader and read-only afterwards.
type SensorStream struct {
	Time    []float64    // seconds, t[0] normalized to 0 for absolute clocks
	AccXYZ  [][3]float64 // linear acceleration, g
	GyroXYZ [][3]float64 // angular rate, rad/s
	AccMag  []float64
	GyroMag []float64
	FS      float64 // estimated sample rate, Hz

	Filepath string
	Metadata SessionMetadata
}

// SessionMetadata carries provenance fields parsed from the session file.
type SessionMetadata struct {
	SessionID     string  `json:"session_id,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	TotalReadings int     `json:"total_readings,omitempty"`
}

// Len returns the number of samples.
func (s *SensorStream) Len() int { return len(s.Time) }

// Duration returns the session length in seconds.
func (s *SensorStream) Duration() float64 {
	if len(s.Time) == 0 {
		return 0
	}
	return s.Time[len(s.Time)-1] - s.Time[0]
}

// Validate checks the stream invariants required by every detector.
func (s *SensorStream) Validate(minDuration float64) error {
	n := len(s.Time)
	if n < 3 {
		return fmt.Errorf("session too short: %d samples (need at least 3)", n)
	}
	if len(s.AccXYZ) != n || len(s.GyroXYZ) != n || len(s.AccMag) != n || len(s.GyroMag) != n {
		return fmt.Errorf("channel length mismatch: time=%d acc=%d gyro=%d", n, len(s.AccXYZ), len(s.GyroXYZ))
	}
	prev := math.Inf(-1)
	for i, t := range s.Time {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("non-finite timestamp at sample %d", i)
		}
		if t < prev {
			return fmt.Errorf("timestamps decrease at sample %d (%.6f -> %.6f)", i, prev, t)
		}
		prev = t
	}
	if d := s.Duration(); d < minDuration {
		return fmt.Errorf("session too short: %.2fs < %.2fs", d, minDuration)
	}
	return nil
}

// Candidate is a sample that crossed the adaptive threshold. It is either
// promoted to an Event or filed in one of the rejection buckets.
type Candidate struct {
	Index     int     `json:"index"`
	Time      float64 `json:"time"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	AccPeak   float64 `json:"acc_peak"`
	GyroPeak  float64 `json:"gyro_peak"`
}

// Event is a confirmed pinch. Streaming events carry Index -1.
type Event struct {
	Index      int     `json:"index"`
	Time       float64 `json:"time"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
	AccPeak    float64 `json:"acc_peak"`
	GyroPeak   float64 `json:"gyro_peak"`
	Confidence float64 `json:"confidence,omitempty"` // template NCC, two-stage only
}

// RejectionLedger files every above-threshold candidate that did not become
// an event, keyed by the first check it failed. A candidate may sit in both
// gate buckets when both gates fail on the same sample.
type RejectionLedger struct {
	Refractory []Candidate `json:"refractory"`
	NotPeak    []Candidate `json:"not_peak"`
	AccGates   []Candidate `json:"acc_gates"`
	GyroGates  []Candidate `json:"gyro_gates"`
	MinIEI     []Candidate `json:"min_iei"`
}

// GateFailures counts candidates that failed at least one amplitude gate.
// Candidates present in both gate buckets are counted once.
func (r *RejectionLedger) GateFailures() int {
	seen := make(map[int]struct{}, len(r.AccGates)+len(r.GyroGates))
	for _, c := range r.AccGates {
		seen[c.Index] = struct{}{}
	}
	for _, c := range r.GyroGates {
		seen[c.Index] = struct{}{}
	}
	return len(seen)
}

// Total returns the number of distinct rejected candidates.
func (r *RejectionLedger) Total() int {
	return len(r.Refractory) + len(r.NotPeak) + len(r.MinIEI) + r.GateFailures()
}

// GateEvent records a two-stage gate trigger before refractory and template
// checks, kept for threshold tuning.
type GateEvent struct {
	Index           int     `json:"index"`
	Time            float64 `json:"time"`
	AccTKEO         float64 `json:"accel_tkeo"`
	GyroTKEO        float64 `json:"gyro_tkeo"`
	FusionScore     float64 `json:"fusion_score"`
	AccThreshold    float64 `json:"accel_threshold"`
	GyroThreshold   float64 `json:"gyro_threshold"`
	FusionThreshold float64 `json:"fusion_threshold"`
}

// Components holds the offline detector's per-channel z-scores.
type Components struct {
	ZA  []float64 `json:"z_a"`
	ZG  []float64 `json:"z_g"`
	ZDA []float64 `json:"z_da"`
	ZDG []float64 `json:"z_dg"`
}

// Result is the common detector output handed to reporters.
type Result struct {
	DetectorType string    `json:"detector_type"`
	Events       []Event   `json:"events"`
	Score        []float64 `json:"score"`
	Threshold    []float64 `json:"threshold"`

	// Offline only.
	Components *Components      `json:"components,omitempty"`
	AHP        []float64        `json:"a_hp,omitempty"`
	Rejections *RejectionLedger `json:"rejected_candidates,omitempty"`

	// Two-stage only.
	AccTKEO        []float64   `json:"accel_tkeo,omitempty"`
	GyroTKEO       []float64   `json:"gyro_tkeo,omitempty"`
	AccThreshold   []float64   `json:"accel_threshold,omitempty"`
	GyroThreshold  []float64   `json:"gyro_threshold,omitempty"`
	GateEvents     []GateEvent `json:"gate_events,omitempty"`
	TemplateScores []float64   `json:"template_scores,omitempty"`

	Params Config        `json:"params"`
	Stream *SensorStream `json:"-"`
}
