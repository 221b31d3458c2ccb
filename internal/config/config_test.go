package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, stages.ModeStrict, cfg.StageMode())
	assert.Equal(t, stages.DefaultStageSpec, cfg.Pipeline.StageSpec)
	assert.Equal(t, 30*time.Second, cfg.Registry.CacheTTL)
}

func TestLoad_FileOverDefaults(t *testing.T) {
	t.Setenv("HF_REDIS_SECRET", "s3cret")
	path := writeFile(t, `
database: /var/lib/hfp/pipeline.db
redis:
  addr: localhost:6379
  password: ${HF_REDIS_SECRET}
pipeline:
  stage_mode: fallback
  spec_timeout: 2s
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hfp/pipeline.db", cfg.Database)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, "default", cfg.Redis.Namespace, "unset fields keep defaults")
	assert.Equal(t, stages.ModeFallback, cfg.StageMode())
	assert.Equal(t, 2*time.Second, cfg.Pipeline.SpecTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 15*time.Second, cfg.Serve.ProbeInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HFP_DB", "/tmp/env.db")
	t.Setenv("HFP_STAGE_MODE", "fallback")
	t.Setenv("HFP_LOG_LEVEL", "trace")
	t.Setenv("HFP_CACHE_TTL", "5s")
	t.Setenv("HFP_REDIS_DB", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database)
	assert.Equal(t, stages.ModeFallback, cfg.StageMode())
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Registry.CacheTTL)
	assert.Equal(t, 0, cfg.Redis.DB, "unparseable values are ignored")
}

func TestRead_DefersValidation(t *testing.T) {
	t.Setenv("HFP_STAGE_MODE", "sometimes")

	cfg, err := Read("")
	require.NoError(t, err, "Read leaves validation to the caller")
	assert.Equal(t, "sometimes", cfg.Pipeline.StageMode)
	assert.Error(t, cfg.Validate())

	cfg.Pipeline.StageMode = "fallback"
	assert.NoError(t, cfg.Validate())

	_, err = Load("")
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), "invalid configuration"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database", func(c *Config) { c.Database = " " }},
		{"negative ttl", func(c *Config) { c.Registry.CacheTTL = -time.Second }},
		{"unknown stage mode", func(c *Config) { c.Pipeline.StageMode = "lenient" }},
		{"negative timeout", func(c *Config) { c.Pipeline.SpecTimeout = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"redis without namespace", func(c *Config) { c.Redis.Addr = "x:1"; c.Redis.Namespace = "" }},
		{"zero probe interval", func(c *Config) { c.Serve.ProbeInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "pipeline: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "pipeline:\n  stage_mode: sometimes\n"))
	assert.Error(t, err)
}
