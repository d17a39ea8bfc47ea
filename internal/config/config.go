// Package config holds all porter configuration. Configuration is read from
// a YAML file with environment-variable overrides applied on top, so a
// deployment can tune the engine without editing files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	// Engine tunes execution behavior.
	Engine EngineConfig `yaml:"engine"`

	// Patterns locates the pattern library.
	Patterns PatternsConfig `yaml:"patterns"`

	// Logging controls the structured logger.
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	// DefaultStepTimeout bounds a step that declares no override.
	DefaultStepTimeout string `yaml:"default_step_timeout"`

	// DefaultTTL is the freshness window for capabilities declaring none.
	DefaultTTL string `yaml:"default_ttl"`

	// MaxConcurrent caps simultaneous executions in the CLI's parallel
	// mode. Zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// PatternsConfig locates and controls the pattern library.
type PatternsConfig struct {
	// Dir is the directory of pattern documents.
	Dir string `yaml:"dir"`

	// Watch enables hot-reload of the library on file changes.
	Watch bool `yaml:"watch"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON switches from console to JSON encoding.
	JSON bool `yaml:"json"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultStepTimeout: "30s",
			DefaultTTL:         "15m",
			MaxConcurrent:      16,
		},
		Patterns: PatternsConfig{
			Dir:   "patterns",
			Watch: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads path (when non-empty) over the defaults and applies environment
// overrides. A missing file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers PORTER_* environment variables over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORTER_PATTERN_DIR"); v != "" {
		c.Patterns.Dir = v
	}
	if v := os.Getenv("PORTER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PORTER_STEP_TIMEOUT"); v != "" {
		c.Engine.DefaultStepTimeout = v
	}
	if v := os.Getenv("PORTER_WATCH"); v != "" {
		c.Patterns.Watch = v == "1" || v == "true"
	}
}

func (c *Config) validate() error {
	if _, err := c.StepTimeout(); err != nil {
		return err
	}
	if _, err := c.TTL(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}

// StepTimeout parses the default step timeout.
func (c *Config) StepTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.DefaultStepTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: bad default_step_timeout %q", c.Engine.DefaultStepTimeout)
	}
	return d, nil
}

// TTL parses the default freshness window.
func (c *Config) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.DefaultTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: bad default_ttl %q", c.Engine.DefaultTTL)
	}
	return d, nil
}
