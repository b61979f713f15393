package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main runtime configuration
type Config struct {
	// Database
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Runtime defaults
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Session retention
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Prompt template overrides
	PromptsDir string `json:"prompts_dir" mapstructure:"prompts_dir"`
}

// DatabaseConfig holds sqlite database settings
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// RuntimeConfig holds execution defaults applied when a template omits them
type RuntimeConfig struct {
	DefaultModel     string  `json:"default_model" mapstructure:"default_model"`
	DefaultAgentKind string  `json:"default_agent_kind" mapstructure:"default_agent_kind"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens        int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations    int     `json:"max_iterations" mapstructure:"max_iterations"`
	SearchTopK       int     `json:"search_top_k" mapstructure:"search_top_k"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	Model     string `json:"model" mapstructure:"model"`
	APIKeyRef string `json:"api_key_ref" mapstructure:"api_key_ref"` // environment variable name
}

// RetentionConfig holds session archival settings
type RetentionConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Schedule   string `json:"schedule" mapstructure:"schedule"` // cron expression
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	ArchiveDir string `json:"archive_dir" mapstructure:"archive_dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "./data/arun.db",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  false,
		},
		Runtime: RuntimeConfig{
			DefaultModel:     "gpt-4o-mini",
			DefaultAgentKind: "tool_calling_agent",
			Temperature:      0.7,
			MaxTokens:        4096,
			MaxIterations:    15,
			SearchTopK:       10,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			APIKeyRef: "OPENAI_API_KEY",
		},
		Retention: RetentionConfig{
			Enabled:    false,
			Schedule:   "0 3 * * *",
			MaxAgeDays: 30,
			ArchiveDir: "./data/archive",
		},
	}
}

// String returns a JSON representation with nothing redacted (no secrets are stored)
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
