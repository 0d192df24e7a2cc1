// Package config loads replica configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// DatabasePath locates the replica's SQLite database.
	DatabasePath string `yaml:"database_path"`

	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

// SyncConfig tunes the synchronization loop.
type SyncConfig struct {
	PushBatchSize int           `yaml:"push_batch_size"`
	Interval      time.Duration `yaml:"interval"`
	MaxRetries    int           `yaml:"max_retries"`

	// RetentionAge bounds how long synced outbox events are kept before
	// pruning.
	RetentionAge time.Duration `yaml:"retention_age"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	// Level is a zerolog level name: debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "replica.db",
		Sync: SyncConfig{
			PushBatchSize: 10,
			Interval:      5 * time.Second,
			MaxRetries:    5,
			RetentionAge:  7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the file at path over the defaults. A missing file returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database_path must not be empty")
	}
	if c.Sync.PushBatchSize <= 0 {
		return fmt.Errorf("config: sync.push_batch_size must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("config: sync.interval must be positive")
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("config: sync.max_retries must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	return nil
}
