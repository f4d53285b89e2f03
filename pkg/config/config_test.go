package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 6.0, cfg.PINT.SamplingRadius)
	assert.Equal(t, 6.0, cfg.PINT.SearchRadius)
	assert.Equal(t, 12.0, cfg.PINT.PaddingRadius)
	assert.Equal(t, 50, cfg.PINT.MaxIterations)
	assert.Equal(t, 1.0, cfg.PINT.MoveThreshold)
	assert.Equal(t, 150.0, cfg.PINT.FinalDistanceLimit)
	assert.Equal(t, 50, cfg.PINT.RepairStartIteration)
	assert.False(t, cfg.PINT.PartialCorrelation)
	assert.False(t, cfg.PINT.OutputAll)
	assert.Equal(t, "wb_command", cfg.Tool.Binary)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().PINT.PaddingRadius, cfg.PINT.PaddingRadius)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pint.yaml")

	cfg := DefaultConfig()
	cfg.PINT.PartialCorrelation = true
	cfg.PINT.SearchRadius = 4
	cfg.PINT.Seed = 42
	cfg.Geometry = GeometryMesh
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, loaded.PINT.PartialCorrelation)
	assert.Equal(t, 4.0, loaded.PINT.SearchRadius)
	assert.Equal(t, int64(42), loaded.PINT.Seed)
	assert.Equal(t, GeometryMesh, loaded.Geometry)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pint:\n  samplingRadius: 4\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.PINT.SamplingRadius)
	assert.Equal(t, 12.0, cfg.PINT.PaddingRadius)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sampling radius", func(c *Config) { c.PINT.SamplingRadius = 0 }},
		{"padding below search", func(c *Config) { c.PINT.PaddingRadius = 3 }},
		{"no workers", func(c *Config) { c.PINT.Workers = 0 }},
		{"no iterations", func(c *Config) { c.PINT.MaxIterations = 0 }},
		{"unknown geometry", func(c *Config) { c.Geometry = "freesurfer" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"missing binary", func(c *Config) { c.Tool.Binary = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pint: [unterminated"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
