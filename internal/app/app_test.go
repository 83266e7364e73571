package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/instafix/internal/app"
	"github.com/JakeFAU/instafix/internal/config"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Grid.Backend = config.BackendMemory
	return cfg
}

func TestNewWithMemoryBackends(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	assert.NotNil(t, a.Resolver())
	assert.NotNil(t, a.Grid())
	assert.NotNil(t, a.Sweeper(), "memory cache needs a sweep loop")
	require.NoError(t, a.CacheStore().Ping(context.Background()))

	p := a.Resolve(context.Background(), "not a post!")
	assert.True(t, p.Failed())
	assert.Equal(t, "invalid post id", p.Error)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewWithRedisAndLocalGrid(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.Cache.Backend = config.BackendRedis
	cfg.Cache.Redis.Addr = srv.Addr()
	cfg.Grid.Backend = config.BackendLocal
	cfg.Grid.Dir = t.TempDir()
	cfg.Query.Enabled = true
	cfg.Query.Proxies = []string{"http://127.0.0.1:3128"}

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Sweeper(), "redis expires keys itself")
	require.NoError(t, a.CacheStore().Ping(context.Background()))

	n, err := a.Warm(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Cache.Backend = "disk"
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Upstream.Proxies = []string{"://missing-scheme"}
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary fetcher")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
