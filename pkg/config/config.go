// Package config provides configuration loading and management for the
// sensitivity-matrix pipeline. It handles loading configuration from YAML
// files and provides default values; every recognized option is enumerated
// here and defaulted at construction time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
)

// Config represents the pipeline configuration loaded from YAML
type Config struct {
	// Run identifies the run and controls checkpointing
	Run struct {
		// Tag identifies the run; checkpoint and output artifacts are
		// keyed by this string
		Tag string `yaml:"tag"`

		// CheckpointDir is the directory for intermediate and final artifacts
		CheckpointDir string `yaml:"checkpointDir"`

		// SaveCheckpoints persists the voxelized fields between stages so a
		// restarted run can resume instead of recomputing
		SaveCheckpoints bool `yaml:"saveCheckpoints"`

		// Resume reloads the voxelized-fields checkpoint when present
		Resume bool `yaml:"resume"`

		// NumCores specifies how many CPU cores to use for the parallel
		// location and interpolation loops
		NumCores int `yaml:"numCores"`

		// Verbose controls progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"run"`

	// Grid controls voxel lattice construction
	Grid struct {
		// VoxMM is the voxel pitch in millimeters
		VoxMM float64 `yaml:"voxmm"`
	} `yaml:"grid"`

	// Mask controls good-voxel retention
	Mask struct {
		// GThresh is the sensitivity threshold (relative level for the
		// glevel policy, kept fraction for gtop)
		GThresh float64 `yaml:"gthresh"`

		// KeepMeth is the retention policy: "glevel" or "gtop"
		KeepMeth string `yaml:"keepmeth"`
	} `yaml:"mask"`

	// Assembly controls the forward-model combination
	Assembly struct {
		// Formula is the sensitivity-combination convention: "product"
		// (default) or "normalized"
		Formula string `yaml:"formula"`
	} `yaml:"assembly"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Run.Tag = ""
	cfg.Run.CheckpointDir = "amat_output"
	cfg.Run.SaveCheckpoints = true
	cfg.Run.Resume = false
	cfg.Run.NumCores = runtime.NumCPU()
	cfg.Run.Verbose = true

	cfg.Grid.VoxMM = 2.0

	cfg.Mask.GThresh = 1e-3
	cfg.Mask.KeepMeth = "glevel"

	cfg.Assembly.Formula = "product"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

// CreateDefaultConfigFile creates a default configuration file at the
// specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration before a run starts. Every violation is
// a configuration error; nothing is computed and no artifact is written
// when validation fails.
func (cfg *Config) Validate() error {
	if cfg.Run.Tag == "" {
		return fmt.Errorf("%w: run tag is required", models.ErrConfig)
	}
	if cfg.Grid.VoxMM <= 0 {
		return fmt.Errorf("%w: voxmm %g must be positive", models.ErrConfig, cfg.Grid.VoxMM)
	}
	if cfg.Mask.GThresh < 0 {
		return fmt.Errorf("%w: gthresh %g must be non-negative", models.ErrConfig, cfg.Mask.GThresh)
	}
	switch cfg.Mask.KeepMeth {
	case "glevel", "gtop":
	default:
		return fmt.Errorf("%w: unknown keepmeth %q", models.ErrConfig, cfg.Mask.KeepMeth)
	}
	switch cfg.Assembly.Formula {
	case "product", "normalized":
	default:
		return fmt.Errorf("%w: unknown formula %q", models.ErrConfig, cfg.Assembly.Formula)
	}
	if cfg.Run.NumCores < 1 {
		return fmt.Errorf("%w: numCores %d must be at least 1", models.ErrConfig, cfg.Run.NumCores)
	}
	return nil
}
