package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".arun", "arun.json")
	}

	// Return defaults when no config file is present
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("ARUN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Runtime.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive")
	}
	if c.Runtime.Temperature < 0 || c.Runtime.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Runtime.SearchTopK <= 0 {
		return fmt.Errorf("search top_k must be positive")
	}
	if c.Retention.Enabled {
		if c.Retention.Schedule == "" {
			return fmt.Errorf("retention schedule is required when retention is enabled")
		}
		if c.Retention.MaxAgeDays <= 0 {
			return fmt.Errorf("retention max age must be positive")
		}
		if c.Retention.ArchiveDir == "" {
			return fmt.Errorf("retention archive dir is required when retention is enabled")
		}
	}
	return nil
}
