package pinchsense

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Fusion methods for the two-stage detector.
const (
	FusionAdditive       = "additive"
	FusionMultiplicative = "multiplicative"
)

// WarnFunc receives non-fatal diagnostics (sampling-rate mismatch, template
// bundle drift, time gaps). The core never writes to a log file itself.
type WarnFunc func(format string, args ...interface{})

// StationaryParams tunes the offline adaptive-z-score detector.
type StationaryParams struct {
	KMad        float64 `yaml:"k_mad" json:"k_mad"`
	AccGate     float64 `yaml:"acc_gate" json:"acc_gate"`
	GyroGate    float64 `yaml:"gyro_gate" json:"gyro_gate"`
	HPWin       float64 `yaml:"hp_win" json:"hp_win"`
	ThrWin      float64 `yaml:"thr_win" json:"thr_win"`
	RefractoryS float64 `yaml:"refractory_s" json:"refractory_s"`
	PeakWinS    float64 `yaml:"peakwin_s" json:"peakwin_s"`
	GateWinS    float64 `yaml:"gatewin_s" json:"gatewin_s"`
	MinIEIS     float64 `yaml:"min_iei_s" json:"min_iei_s"`
}

// StreamingParams tunes the real-time detector.
type StreamingParams struct {
	MinIntervalS     float64 `yaml:"min_interval_s" json:"min_interval_s"`
	DecisionLatencyS float64 `yaml:"decision_latency_s" json:"decision_latency_s"`
	KMadLiberal      float64 `yaml:"k_mad_liberal" json:"k_mad_liberal"`
	KMadConfirm      float64 `yaml:"k_mad_confirm" json:"k_mad_confirm"`
	BaselineAlpha    float64 `yaml:"baseline_alpha" json:"baseline_alpha"`
	HampelK          float64 `yaml:"hampel_k" json:"hampel_k"`
}

// TwoStageParams tunes the band-pass + TKEO + template pipeline.
type TwoStageParams struct {
	FS                  float64 `yaml:"fs" json:"fs"`
	BandpassLow         float64 `yaml:"bandpass_low" json:"bandpass_low"`
	BandpassHigh        float64 `yaml:"bandpass_high" json:"bandpass_high"`
	BandpassOrder       int     `yaml:"bandpass_order" json:"bandpass_order"`
	BaselineAlpha       float64 `yaml:"baseline_alpha" json:"baseline_alpha"`
	HampelK             float64 `yaml:"hampel_k" json:"hampel_k"`
	GateKAccel          float64 `yaml:"gate_k_accel" json:"gate_k_accel"`
	GateKGyro           float64 `yaml:"gate_k_gyro" json:"gate_k_gyro"`
	GateKFusion         float64 `yaml:"gate_k_fusion" json:"gate_k_fusion"`
	FusionWeightAccel   float64 `yaml:"fusion_weight_accel" json:"fusion_weight_accel"`
	FusionWeightGyro    float64 `yaml:"fusion_weight_gyro" json:"fusion_weight_gyro"`
	FusionMethod        string  `yaml:"fusion_method" json:"fusion_method"`
	TemplateLength      int     `yaml:"template_length" json:"template_length"`
	TemplateConfidence  float64 `yaml:"template_confidence" json:"template_confidence"`
	TemplateMaxLag      int     `yaml:"template_max_lag" json:"template_max_lag"`
	RefractoryPeriodS   float64 `yaml:"refractory_period_s" json:"refractory_period_s"`
	VerificationWindowS float64 `yaml:"verification_window_s" json:"verification_window_s"`
	WarmupS             float64 `yaml:"warmup_s" json:"warmup_s"`
}

// WalkingParams is the locomotion parameter preset. It is carried as data
// only; no walking pipeline exists.
type WalkingParams struct {
	KMad           float64 `yaml:"k_mad" json:"k_mad"`
	AccGate        float64 `yaml:"acc_gate" json:"acc_gate"`
	GyroGate       float64 `yaml:"gyro_gate" json:"gyro_gate"`
	HPWin          float64 `yaml:"hp_win" json:"hp_win"`
	BPLo           float64 `yaml:"bp_lo" json:"bp_lo"`
	BPHi           float64 `yaml:"bp_hi" json:"bp_hi"`
	EnvWin         float64 `yaml:"env_win" json:"env_win"`
	ThrWin         float64 `yaml:"thr_win" json:"thr_win"`
	AlignTolS      float64 `yaml:"align_tol_s" json:"align_tol_s"`
	RiseMaxS       float64 `yaml:"rise_max_s" json:"rise_max_s"`
	DecayDTS       float64 `yaml:"decay_dt_s" json:"decay_dt_s"`
	DecayFracMax   float64 `yaml:"decay_frac_max" json:"decay_frac_max"`
	EnergyRatioMin float64 `yaml:"energy_ratio_min" json:"energy_ratio_min"`
	LowLo          float64 `yaml:"low_lo" json:"low_lo"`
	LowHi          float64 `yaml:"low_hi" json:"low_hi"`
	CorrLagS       float64 `yaml:"corr_lag_s" json:"corr_lag_s"`
	CorrMin        float64 `yaml:"corr_min" json:"corr_min"`
	RefractoryS    float64 `yaml:"refractory_s" json:"refractory_s"`
	PeakWinS       float64 `yaml:"peakwin_s" json:"peakwin_s"`
	GateWinS       float64 `yaml:"gatewin_s" json:"gatewin_s"`
	MinIEIS        float64 `yaml:"min_iei_s" json:"min_iei_s"`
}

// AnalysisParams holds loader-facing validation limits.
type AnalysisParams struct {
	MinDurationS float64 `yaml:"min_duration_s" json:"min_duration_s"`
	MaxGapS      float64 `yaml:"max_gap_s" json:"max_gap_s"`
}

// Config is immutable through a detector run.
type Config struct {
	Stationary StationaryParams `yaml:"stationary_params" json:"stationary_params"`
	Streaming  StreamingParams  `yaml:"streaming_params" json:"streaming_params"`
	TwoStage   TwoStageParams   `yaml:"twostage_params" json:"twostage_params"`
	Walking    WalkingParams    `yaml:"walking_params" json:"walking_params"`
	Analysis   AnalysisParams   `yaml:"analysis" json:"analysis"`

	Warn WarnFunc `yaml:"-" json:"-"`
}

// DefaultConfig returns the tuned defaults for stationary wrist sessions.
func DefaultConfig() Config {
	return Config{
		Stationary: StationaryParams{
			KMad:        5.5,
			AccGate:     0.025,
			GyroGate:    0.10,
			HPWin:       0.5,
			ThrWin:      3.0,
			RefractoryS: 0.12,
			PeakWinS:    0.04,
			GateWinS:    0.18,
			MinIEIS:     0.10,
		},
		Streaming: StreamingParams{
			MinIntervalS:     0.300,
			DecisionLatencyS: 0.200,
			KMadLiberal:      3.2,
			KMadConfirm:      4.2,
			BaselineAlpha:    0.001,
			HampelK:          3.0,
		},
		TwoStage: TwoStageParams{
			FS:                  100,
			BandpassLow:         3.0,
			BandpassHigh:        20.0,
			BandpassOrder:       2,
			BaselineAlpha:       0.001,
			HampelK:             3.0,
			GateKAccel:          3.0,
			GateKGyro:           3.0,
			GateKFusion:         3.0,
			FusionWeightAccel:   1.0,
			FusionWeightGyro:    1.5,
			FusionMethod:        FusionAdditive,
			TemplateLength:      16,
			TemplateConfidence:  0.65,
			TemplateMaxLag:      3,
			RefractoryPeriodS:   0.2,
			VerificationWindowS: 0.16,
			WarmupS:             0.5,
		},
		Walking: WalkingParams{
			KMad:           3.0,
			AccGate:        0.025,
			GyroGate:       0.10,
			HPWin:          0.5,
			BPLo:           4.0,
			BPHi:           30.0,
			EnvWin:         0.06,
			ThrWin:         3.0,
			AlignTolS:      0.50,
			RiseMaxS:       0.40,
			DecayDTS:       0.14,
			DecayFracMax:   0.90,
			EnergyRatioMin: 0.001,
			LowLo:          0.7,
			LowHi:          3.0,
			CorrLagS:       0.10,
			CorrMin:        0.15,
			RefractoryS:    0.12,
			PeakWinS:       0.15,
			GateWinS:       0.20,
			MinIEIS:        0.10,
		},
		Analysis: AnalysisParams{
			MinDurationS: 1.0,
			MaxGapS:      0.1,
		},
	}
}

// LoadConfig merges a YAML file over the defaults. Unknown keys are a
// configuration error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects out-of-range options at detector construction time.
func (c *Config) Validate() error {
	s := c.Stationary
	if s.KMad <= 0 || s.HPWin <= 0 || s.ThrWin <= 0 {
		return fmt.Errorf("stationary_params: k_mad, hp_win and thr_win must be positive")
	}
	if s.RefractoryS < 0 || s.PeakWinS < 0 || s.GateWinS < 0 || s.MinIEIS < 0 {
		return fmt.Errorf("stationary_params: windows must be non-negative")
	}
	st := c.Streaming
	if st.MinIntervalS <= 0 || st.DecisionLatencyS <= 0 {
		return fmt.Errorf("streaming_params: min_interval_s and decision_latency_s must be positive")
	}
	if st.KMadConfirm < st.KMadLiberal {
		return fmt.Errorf("streaming_params: k_mad_confirm %.2f below k_mad_liberal %.2f", st.KMadConfirm, st.KMadLiberal)
	}
	if st.BaselineAlpha <= 0 || st.BaselineAlpha >= 1 {
		return fmt.Errorf("streaming_params: baseline_alpha must be in (0,1)")
	}
	ts := c.TwoStage
	if ts.FS <= 0 {
		return fmt.Errorf("twostage_params: fs must be positive")
	}
	if ts.BandpassLow <= 0 || ts.BandpassHigh <= ts.BandpassLow || ts.BandpassHigh >= ts.FS/2 {
		return fmt.Errorf("twostage_params: band edges %.1f-%.1f invalid for fs %.1f", ts.BandpassLow, ts.BandpassHigh, ts.FS)
	}
	if ts.BandpassOrder != 2 {
		return fmt.Errorf("twostage_params: only order-2 band-pass is supported")
	}
	if ts.FusionMethod != FusionAdditive && ts.FusionMethod != FusionMultiplicative {
		return fmt.Errorf("twostage_params: unknown fusion_method %q", ts.FusionMethod)
	}
	if ts.TemplateLength < 4 {
		return fmt.Errorf("twostage_params: template_length %d too small", ts.TemplateLength)
	}
	if ts.TemplateMaxLag < 0 || ts.TemplateMaxLag >= ts.TemplateLength {
		return fmt.Errorf("twostage_params: template_max_lag %d out of range", ts.TemplateMaxLag)
	}
	if c.Analysis.MinDurationS <= 0 {
		return fmt.Errorf("analysis: min_duration_s must be positive")
	}
	return nil
}

// warnf routes a warning through the injected sink, falling back to the
// process logger.
func (c *Config) warnf(format string, args ...interface{}) {
	if c.Warn != nil {
		c.Warn(format, args...)
		return
	}
	log.Printf("[PinchSense] WARNING: "+format, args...)
}
