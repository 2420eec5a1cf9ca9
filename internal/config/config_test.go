package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spxsignals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  redis:
    addr: "redis:6379"
    op_timeout: 250ms
database:
  enabled: true
  dsn: "postgres://spx@db/spx"
  query_timeout: 3s
providers:
  massive:
    rps: 2
    timeout: 4s
server:
  port: 9090
logging:
  level: debug
`), 0o644))

	t.Setenv("REDIS_DB", "3")
	t.Setenv("MASSIVE_API_KEY", "secret")
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 3, cfg.Cache.Redis.DB)
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.Redis.OpTimeout)
	assert.Equal(t, 2*time.Second, cfg.Cache.Redis.DialTimeout)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "secret", cfg.Providers.Massive.APIKey)
	assert.Equal(t, "https://api.massive.com", cfg.Providers.Massive.BaseURL)
	assert.Equal(t, 2.0, cfg.Providers.Massive.RPS)
	assert.Equal(t, 4*time.Second, cfg.Providers.Massive.Timeout)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.NoError(t, cfg.Validate())

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"database_without_dsn", func(c *Config) { c.Database.Enabled = true }, "database"},
		{"negative_redis_db", func(c *Config) { c.Cache.Redis.DB = -1 }, "cache.redis.db"},
		{"negative_rps", func(c *Config) { c.Providers.Massive.RPS = -1 }, "rps"},
		{"bad_base_url", func(c *Config) { c.Providers.Massive.BaseURL = "ftp://x" }, "base_url"},
		{"bad_port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad_level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
