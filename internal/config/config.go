// Package config loads adaptctl settings from a YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/stages"
	"gopkg.in/yaml.v3"
)

// Config contains every adaptctl setting.
type Config struct {
	// Database is the SQLite file holding specs, scores, profiles and targets.
	Database string `yaml:"database"`

	// Redis, when Addr is set, backs the spec registry cache so several
	// processes share one view of the active rule set.
	Redis RedisConfig `yaml:"redis"`

	Registry RegistryConfig `yaml:"registry"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Serve    ServeConfig    `yaml:"serve"`
}

// RedisConfig configures the shared spec cache.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// RegistryConfig configures spec caching.
type RegistryConfig struct {
	// CacheTTL bounds how long an edited spec can stay invisible to runs. Zero
	// disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// PipelineConfig configures stage resolution and execution.
type PipelineConfig struct {
	// StageSpec is the slug of the PIPELINE spec listing the stages.
	StageSpec string `yaml:"stage_spec"`
	// StageMode is "strict" (missing stage spec is fatal) or "fallback".
	StageMode string `yaml:"stage_mode"`
	// SpecTimeout bounds each spec's execution; 0 disables the bound.
	SpecTimeout time.Duration `yaml:"spec_timeout"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level is "info" (default), "debug" or "trace".
	Level string `yaml:"level"`
}

// ServeConfig configures the readiness probe server.
type ServeConfig struct {
	Addr          string        `yaml:"addr"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: "hf-pipeline.db",
		Redis: RedisConfig{
			Namespace: "default",
		},
		Registry: RegistryConfig{
			CacheTTL: spec.DefaultCacheTTL,
		},
		Pipeline: PipelineConfig{
			StageSpec: stages.DefaultStageSpec,
			StageMode: string(stages.ModeStrict),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Serve: ServeConfig{
			Addr:          ":9090",
			ProbeInterval: 15 * time.Second,
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further overrides
// (command-line flags) before calling Validate themselves.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Redis.Password = expandEnvVars(cfg.Redis.Password)
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Registry.CacheTTL < 0 {
		return fmt.Errorf("registry.cache_ttl must be non-negative, got %v", c.Registry.CacheTTL)
	}
	if _, err := stages.ParseMode(c.Pipeline.StageMode); err != nil {
		return err
	}
	if c.Pipeline.SpecTimeout < 0 {
		return fmt.Errorf("pipeline.spec_timeout must be non-negative, got %v", c.Pipeline.SpecTimeout)
	}
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	if c.Redis.Addr != "" && strings.TrimSpace(c.Redis.Namespace) == "" {
		return fmt.Errorf("redis.namespace is required when redis.addr is set")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative, got %d", c.Redis.DB)
	}
	if c.Serve.ProbeInterval <= 0 {
		return fmt.Errorf("serve.probe_interval must be positive, got %v", c.Serve.ProbeInterval)
	}
	return nil
}

// StageMode returns the parsed stage mode. Call after Validate.
func (c *Config) StageMode() stages.Mode {
	m, _ := stages.ParseMode(c.Pipeline.StageMode)
	return m
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HFP_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("HFP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HFP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HFP_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("HFP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Registry.CacheTTL = d
		}
	}
	if v := os.Getenv("HFP_STAGE_SPEC"); v != "" {
		cfg.Pipeline.StageSpec = v
	}
	if v := os.Getenv("HFP_STAGE_MODE"); v != "" {
		cfg.Pipeline.StageMode = v
	}
	if v := os.Getenv("HFP_SPEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.SpecTimeout = d
		}
	}
	if v := os.Getenv("HFP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HFP_SERVE_ADDR"); v != "" {
		cfg.Serve.Addr = v
	}
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
