// Package config provides configuration loading and management for pintsurf.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Geometry backends understood by the run command.
const (
	GeometryWorkbench = "wb"
	GeometryMesh      = "mesh"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// PINT algorithm parameters
	PINT struct {
		// SamplingRadius is the geodesic radius (mm) of the disk averaged
		// into each vertex's sampling signal
		SamplingRadius float64 `yaml:"samplingRadius" validate:"gt=0"`

		// SearchRadius bounds how far (mm) a vertex may move in one iteration
		SearchRadius float64 `yaml:"searchRadius" validate:"gt=0"`

		// PaddingRadius keeps neighbouring seeds' search disks apart
		PaddingRadius float64 `yaml:"paddingRadius" validate:"gtefield=SearchRadius"`

		// PartialCorrelation scores candidates by partial correlation,
		// controlling for the other networks' mean signals
		PartialCorrelation bool `yaml:"partialCorrelation"`

		// OutputAll writes the per-iteration vertex_k/dist_k columns
		OutputAll bool `yaml:"outputAll"`

		// MaxIterations caps each convergence phase
		MaxIterations int `yaml:"maxIterations" validate:"gte=1"`

		// MoveThreshold is the largest displacement (mm) still considered converged
		MoveThreshold float64 `yaml:"moveThreshold" validate:"gte=0"`

		// FinalDistanceLimit bounds the origin-to-final geodesic search (mm)
		FinalDistanceLimit float64 `yaml:"finalDistanceLimit" validate:"gt=0"`

		// RepairStartIteration is the iteration index the repair pass starts from
		RepairStartIteration int `yaml:"repairStartIteration" validate:"gte=0"`

		// Seed drives the per-iteration visitation order
		Seed int64 `yaml:"seed"`

		// Workers is the number of vertices relocated concurrently
		Workers int `yaml:"workers" validate:"gte=1"`

		// SilentSample and SilentThreshold flag degenerate vertices: a vertex
		// whose value at SilentSample is below SilentThreshold is silent
		SilentSample    int     `yaml:"silentSample" validate:"gte=0"`
		SilentThreshold float64 `yaml:"silentThreshold" validate:"gte=0"`

		// PreSmoothFWHM smooths the functional data (mm FWHM) before the run;
		// zero disables smoothing
		PreSmoothFWHM float64 `yaml:"preSmoothFWHM" validate:"gte=0"`
	} `yaml:"pint"`

	// External geometry tool parameters
	Tool struct {
		// Binary is the Connectome Workbench command
		Binary string `yaml:"binary" validate:"required"`

		// TempDir is the parent of the run-scoped scratch directory
		TempDir string `yaml:"tempDir"`
	} `yaml:"tool"`

	// Geometry selects the Geometry Provider: "wb" or "mesh"
	Geometry string `yaml:"geometry" validate:"oneof=wb mesh"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=auto text json"`
	} `yaml:"logging"`

	// Output parameters
	Output struct {
		// MetricsTextfile receives Prometheus metrics after the run
		MetricsTextfile string `yaml:"metricsTextfile"`

		// Ledger is the SQLite database recording QC run results
		Ledger string `yaml:"ledger"`
	} `yaml:"output"`
}

var validate = validator.New()

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Radii as used by the published PINT procedure
	cfg.PINT.SamplingRadius = 6
	cfg.PINT.SearchRadius = 6
	cfg.PINT.PaddingRadius = 12
	cfg.PINT.PartialCorrelation = false
	cfg.PINT.OutputAll = false
	cfg.PINT.MaxIterations = 50
	cfg.PINT.MoveThreshold = 1.0
	cfg.PINT.FinalDistanceLimit = 150
	cfg.PINT.RepairStartIteration = 50
	cfg.PINT.Seed = 1
	cfg.PINT.Workers = runtime.NumCPU()
	cfg.PINT.SilentSample = 5
	cfg.PINT.SilentThreshold = 5

	cfg.Tool.Binary = "wb_command"
	cfg.Tool.TempDir = os.TempDir()

	cfg.Geometry = GeometryWorkbench

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "auto"

	return cfg
}

// Validate checks field constraints declared in the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
