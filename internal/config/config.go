// Package config loads the sensorguard configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/hed1ad/sensorguard/internal/logging"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
)

// StoreType selects the model store backend.
type StoreType string

const (
	StoreDir  StoreType = "dir"
	StoreBolt StoreType = "bolt"
	StoreNone StoreType = "none"
)

// Config is the full run configuration. Command line flags override it.
type Config struct {
	OutDir string `envconfig:"SENSORGUARD_OUT_DIR" default:"results"`
	Plots  bool   `envconfig:"SENSORGUARD_PLOTS" default:"true"`

	Store    StoreType `envconfig:"SENSORGUARD_STORE" default:"dir"`
	ModelDir string    `envconfig:"SENSORGUARD_MODEL_DIR" default:"models"`
	BoltPath string    `envconfig:"SENSORGUARD_BOLT_PATH" default:"models.db"`

	Tune        bool   `envconfig:"SENSORGUARD_TUNE" default:"false"`
	GridFile    string `envconfig:"SENSORGUARD_GRID_FILE"`
	TuneWorkers int    `envconfig:"SENSORGUARD_TUNE_WORKERS" default:"0"`

	Seed              int64   `envconfig:"SENSORGUARD_SEED" default:"42"`
	Percentile        float64 `envconfig:"SENSORGUARD_THRESHOLD_PERCENTILE" default:"95"`
	MalfunctionMargin float64 `envconfig:"SENSORGUARD_MALFUNCTION_MARGIN" default:"0.2"`

	Training Training
	Log      logging.Config
}

// Training overrides the default training loop. Zero keeps the default.
type Training struct {
	Epochs    int `envconfig:"SENSORGUARD_EPOCHS"`
	BatchSize int `envconfig:"SENSORGUARD_BATCH_SIZE"`
	Patience  int `envconfig:"SENSORGUARD_PATIENCE"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no
// environment lookups.
func Default() *Config {
	return &Config{
		OutDir:            "results",
		Plots:             true,
		Store:             StoreDir,
		ModelDir:          "models",
		BoltPath:          "models.db",
		Seed:              42,
		Percentile:        95,
		MalfunctionMargin: 0.2,
		Log: logging.Config{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreDir, StoreBolt, StoreNone:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Percentile <= 0 || c.Percentile >= 100 {
		return fmt.Errorf("threshold percentile %v must be in (0, 100)", c.Percentile)
	}
	if c.MalfunctionMargin < 0 {
		return fmt.Errorf("malfunction margin %v must not be negative", c.MalfunctionMargin)
	}
	if c.TuneWorkers < 0 {
		return fmt.Errorf("tune workers %d must not be negative", c.TuneWorkers)
	}
	return c.Hyperparams().Validate()
}

// Hyperparams returns the training configuration used when tuning is off.
func (c *Config) Hyperparams() autoencoder.Hyperparams {
	hp := autoencoder.DefaultHyperparams()
	if c.Training.Epochs > 0 {
		hp.Epochs = c.Training.Epochs
	}
	if c.Training.BatchSize > 0 {
		hp.BatchSize = c.Training.BatchSize
	}
	if c.Training.Patience > 0 {
		hp.Patience = c.Training.Patience
	}
	return hp
}
