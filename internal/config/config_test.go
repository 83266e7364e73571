package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 90*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 3, cfg.Upstream.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Upstream.RetryDelay)
	assert.Equal(t, "scontent.cdninstagram.com", cfg.Upstream.CDNHost)
	assert.True(t, cfg.Upstream.StructuredFallback)
	assert.False(t, cfg.Query.Enabled)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.SuccessTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ErrorTTL)
	assert.Equal(t, "instafix:", cfg.Cache.Redis.Prefix)
	assert.Equal(t, "post_cache", cfg.Cache.Postgres.Table)
	assert.Equal(t, BackendLocal, cfg.Grid.Backend)
	assert.Equal(t, "static", cfg.Grid.Dir)
	assert.Equal(t, 10000, cfg.Grid.MaxEntries)
	assert.Equal(t, 10, cfg.Grid.Gap)
	assert.Equal(t, 75, cfg.Grid.Quality)
	assert.InDelta(t, 1.0, cfg.Grid.RPS, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Grid.DownloadTimeout)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 30s
upstream:
  timeout: 15s
  max_attempts: 5
  retry_delay: 250ms
  proxies: ["http://p1:8080", "http://p2:8080"]
  structured_fallback: false
query:
  enabled: true
  endpoint: https://example.com/graphql/query/
  proxies: ["socks5://q1:1080"]
relay:
  base_url: https://relay.example.com/
cache:
  backend: redis
  error_ttl: 1m
  redis:
    addr: redis:6379
    db: 2
grid:
  backend: gcs
  gcs_bucket: grids
  quality: 90
  max_entries: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 5, cfg.Upstream.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Upstream.RetryDelay)
	assert.Equal(t, []string{"http://p1:8080", "http://p2:8080"}, cfg.Upstream.Proxies)
	assert.False(t, cfg.Upstream.StructuredFallback)
	assert.True(t, cfg.Query.Enabled)
	assert.Equal(t, []string{"socks5://q1:1080"}, cfg.Query.Proxies)
	assert.Equal(t, "https://relay.example.com/", cfg.Relay.BaseURL)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, time.Minute, cfg.Cache.ErrorTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.SuccessTTL)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 2, cfg.Cache.Redis.DB)
	assert.Equal(t, BackendGCS, cfg.Grid.Backend)
	assert.Equal(t, "grids", cfg.Grid.GCSBucket)
	assert.Equal(t, 90, cfg.Grid.Quality)
	assert.Equal(t, 50, cfg.Grid.MaxEntries)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INSTAFIX_SERVER_PORT", "4242")
	t.Setenv("INSTAFIX_CACHE_BACKEND", "postgres")
	t.Setenv("INSTAFIX_CACHE_POSTGRES_DSN", "postgres://localhost/instafix")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Server.Port)
	assert.Equal(t, BackendPostgres, cfg.Cache.Backend)
	assert.Equal(t, "postgres://localhost/instafix", cfg.Cache.Postgres.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cache:\n  backend: postgres\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.postgres.dsn")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
		{"upstream timeout", func(c *Config) { c.Upstream.Timeout = -time.Second }, "upstream.timeout"},
		{"attempts", func(c *Config) { c.Upstream.MaxAttempts = 0 }, "upstream.max_attempts"},
		{"query endpoint", func(c *Config) { c.Query.Enabled = true; c.Query.Endpoint = "" }, "query.endpoint"},
		{"ttl", func(c *Config) { c.Cache.ErrorTTL = 0 }, "cache.success_ttl"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "disk" }, "unknown cache.backend"},
		{"redis addr", func(c *Config) { c.Cache.Backend = BackendRedis; c.Cache.Redis.Addr = "" }, "cache.redis.addr"},
		{"grid backend", func(c *Config) { c.Grid.Backend = "s3" }, "unknown grid.backend"},
		{"gcs bucket", func(c *Config) { c.Grid.Backend = BackendGCS }, "grid.gcs_bucket"},
		{"grid memory", func(c *Config) { c.Grid.Backend = BackendMemory; c.Grid.Dir = "" }, ""},
		{"quality low", func(c *Config) { c.Grid.Quality = 0 }, "grid.quality"},
		{"quality high", func(c *Config) { c.Grid.Quality = 101 }, "grid.quality"},
		{"max entries", func(c *Config) { c.Grid.MaxEntries = 0 }, "grid.max_entries"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
