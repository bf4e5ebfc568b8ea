// Package config holds the runtime defaults of the orchestration runtime and
// loads optional YAML overrides with environment variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// VendorConfig holds per-vendor runtime defaults.
type VendorConfig struct {
	// Executable overrides the resolved CLI binary path.
	Executable string `yaml:"executable,omitempty"`
	// Model is the default model flag value.
	Model string `yaml:"model,omitempty"`
	// Timeout is the default execution deadline.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// ResilienceConfig selects the circuit breaker preset and retry bounds for
// transport calls.
type ResilienceConfig struct {
	// BreakerPreset is one of "default", "sensitive", "tolerant".
	BreakerPreset string `yaml:"breaker_preset,omitempty"`
	// MaxAttempts bounds transport retries.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	// InitialDelay seeds the retry backoff.
	InitialDelay Duration `yaml:"initial_delay,omitempty"`
	// MaxDelay caps the retry backoff.
	MaxDelay Duration `yaml:"max_delay,omitempty"`
}

// JuryConfig configures judge execution.
type JuryConfig struct {
	// PoolSize bounds parallel judge execution. Zero means NumCPU.
	PoolSize int `yaml:"pool_size,omitempty"`
	// JudgeTimeout bounds a single judge run.
	JudgeTimeout Duration `yaml:"judge_timeout,omitempty"`
}

// GatherConfig configures the context-gathering advisor.
type GatherConfig struct {
	// Subdirectory under the workspace for materialized references.
	Subdirectory string `yaml:"subdirectory,omitempty"`
	// CacheTTL for fetched HTTP content.
	CacheTTL Duration `yaml:"cache_ttl,omitempty"`
	// AllowedDomains restricts HTTP references when non-empty.
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
}

// Config is the root runtime configuration.
type Config struct {
	Vendors    map[string]VendorConfig `yaml:"vendors,omitempty"`
	Resilience ResilienceConfig        `yaml:"resilience,omitempty"`
	Jury       JuryConfig              `yaml:"jury,omitempty"`
	Gather     GatherConfig            `yaml:"gather,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Vendors: map[string]VendorConfig{
			"claude": {Model: "claude-sonnet-4-5", Timeout: Duration(10 * time.Minute)},
			"gemini": {Model: "gemini-2.5-pro", Timeout: Duration(10 * time.Minute)},
			"codex":  {Model: "gpt-5-codex", Timeout: Duration(10 * time.Minute)},
			"amp":    {Timeout: Duration(10 * time.Minute)},
			"swe":    {Timeout: Duration(15 * time.Minute)},
		},
		Resilience: ResilienceConfig{
			BreakerPreset: "default",
			MaxAttempts:   3,
			InitialDelay:  Duration(time.Second),
			MaxDelay:      Duration(10 * time.Second),
		},
		Jury: JuryConfig{
			PoolSize:     runtime.NumCPU(),
			JudgeTimeout: Duration(5 * time.Minute),
		},
		Gather: GatherConfig{
			Subdirectory: ".agents/context",
			CacheTTL:     Duration(10 * time.Minute),
		},
	}
}

// Load reads YAML overrides from path and merges them over the defaults.
// A missing file yields the defaults unchanged. Environment variables in the
// file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No config file found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var overrides Config
	if err := yaml.Unmarshal(ExpandEnv(data), &overrides); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, &overrides, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	slog.Info("Configuration loaded", "path", path, "vendors", len(cfg.Vendors))
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Resilience.BreakerPreset {
	case "", "default", "sensitive", "tolerant":
	default:
		return fmt.Errorf("unknown breaker preset %q", c.Resilience.BreakerPreset)
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("resilience max_attempts must be at least 1, got %d", c.Resilience.MaxAttempts)
	}
	if c.Jury.PoolSize < 0 {
		return fmt.Errorf("jury pool_size must be non-negative, got %d", c.Jury.PoolSize)
	}
	for name, vendor := range c.Vendors {
		if vendor.Timeout < 0 {
			return fmt.Errorf("vendor %s: timeout must be non-negative", name)
		}
	}
	return nil
}

// Vendor returns the configuration for a vendor, zero-valued when absent.
func (c *Config) Vendor(name string) VendorConfig {
	return c.Vendors[name]
}

// ExpandEnv substitutes ${VAR} and $VAR references in the raw config file
// before YAML parsing, so vendor executables, tokens, and gather domains can
// point at the environment. Unset variables expand to the empty string;
// Validate catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
