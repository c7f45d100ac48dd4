// Package config loads the engine's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	WorkflowsDir string        `yaml:"workflows_dir"` // directory of saved workflows
	TemplateMode string        `yaml:"template_mode"` // "strict" (default) or "permissive"
	MaxDepth     int           `yaml:"max_depth"`     // loaded and defaulted only; the runtime does not read it
	Logging      LoggingConfig `yaml:"logging"`
	Metrics      MetricsConfig `yaml:"metrics"`
}

// LoggingConfig holds structured-logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // zap level name, default "info"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		WorkflowsDir: "workflows",
		TemplateMode: "strict",
		MaxDepth:     10,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.TemplateMode != "strict" && cfg.TemplateMode != "permissive" {
		return nil, fmt.Errorf("invalid template_mode %q: must be strict or permissive", cfg.TemplateMode)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}

	return cfg, nil
}

// LoadDefault tries to load "pflow.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("pflow.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}
