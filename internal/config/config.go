package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all vizguard configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Pipeline is the repair orchestrator's configuration surface.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "vizguard",
		Version:  "0.3.0",
		Pipeline: DefaultPipelineConfig(),
		LLM: LLMConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-flash",
			Timeout:           "60s",
			RequestsPerMinute: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to read config")
		}
		// Defaults plus environment when no file exists
		data = nil
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config")
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	// API key, checked in priority order
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if model := os.Getenv("VIZGUARD_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if v := os.Getenv("VIZGUARD_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "VIZGUARD_MAX_ATTEMPTS=%q", v)
		}
		c.Pipeline.MaxAttempts = n
	}
	if v := os.Getenv("VIZGUARD_REQUIRED_PROPOSALS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "VIZGUARD_REQUIRED_PROPOSALS=%q", v)
		}
		c.Pipeline.RequiredProposals = n
	}
	if v := os.Getenv("VIZGUARD_EXECUTION_TIMEOUT"); v != "" {
		c.Pipeline.ExecutionTimeout = v
	}
	if v := os.Getenv("VIZGUARD_RULESET"); v != "" {
		c.Pipeline.SecurityRuleSet = v
	}
	return nil
}

// GetLLMTimeout returns the per-request model timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.LLM.RequestsPerMinute < 0 {
		return errors.Newf("llm.requests_per_minute must be >= 0, got %d", c.LLM.RequestsPerMinute)
	}
	return nil
}
