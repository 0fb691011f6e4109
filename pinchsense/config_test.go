package pinchsense

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5.5, cfg.Stationary.KMad)
	assert.Equal(t, 0.025, cfg.Stationary.AccGate)
	assert.Equal(t, 0.10, cfg.Stationary.GyroGate)
	assert.Equal(t, 0.300, cfg.Streaming.MinIntervalS)
	assert.Equal(t, 0.200, cfg.Streaming.DecisionLatencyS)
	assert.Equal(t, 3.2, cfg.Streaming.KMadLiberal)
	assert.Equal(t, 4.2, cfg.Streaming.KMadConfirm)
	assert.Equal(t, 16, cfg.TwoStage.TemplateLength)
	assert.Equal(t, 0.65, cfg.TwoStage.TemplateConfidence)
	assert.Equal(t, FusionAdditive, cfg.TwoStage.FusionMethod)
	assert.Equal(t, 1.0, cfg.Analysis.MinDurationS)
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("stationary_params:\n  k_mad: 4.0\nstreaming_params:\n  k_mad_confirm: 5.0\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.Stationary.KMad)
	assert.Equal(t, 5.0, cfg.Streaming.KMadConfirm)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.025, cfg.Stationary.AccGate)
	assert.Equal(t, 3.2, cfg.Streaming.KMadLiberal)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stationary_params:\n  k_mda: 4.0\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err, "typoed option must fail loudly")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Stationary, cfg.Stationary)
}

func TestValidateRejectsBadOptions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero k_mad", func(c *Config) { c.Stationary.KMad = 0 }},
		{"negative window", func(c *Config) { c.Stationary.PeakWinS = -0.1 }},
		{"confirm below liberal", func(c *Config) { c.Streaming.KMadConfirm = 1.0 }},
		{"alpha out of range", func(c *Config) { c.Streaming.BaselineAlpha = 1.5 }},
		{"inverted band", func(c *Config) { c.TwoStage.BandpassLow = 25 }},
		{"band above nyquist", func(c *Config) { c.TwoStage.BandpassHigh = 60 }},
		{"unknown fusion method", func(c *Config) { c.TwoStage.FusionMethod = "geometric" }},
		{"tiny template", func(c *Config) { c.TwoStage.TemplateLength = 2 }},
		{"lag out of range", func(c *Config) { c.TwoStage.TemplateMaxLag = 40 }},
		{"unsupported order", func(c *Config) { c.TwoStage.BandpassOrder = 4 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWalkingPresetCarried(t *testing.T) {
	// The locomotion parameter set rides along as data only.
	cfg := DefaultConfig()
	assert.Equal(t, 3.0, cfg.Walking.KMad)
	assert.Equal(t, 4.0, cfg.Walking.BPLo)
	assert.Equal(t, 30.0, cfg.Walking.BPHi)
}
