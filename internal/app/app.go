// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/instafix/internal/api"
	"github.com/JakeFAU/instafix/internal/cache"
	memorycache "github.com/JakeFAU/instafix/internal/cache/memory"
	postgrescache "github.com/JakeFAU/instafix/internal/cache/postgres"
	rediscache "github.com/JakeFAU/instafix/internal/cache/redis"
	"github.com/JakeFAU/instafix/internal/config"
	"github.com/JakeFAU/instafix/internal/extract"
	collyfetcher "github.com/JakeFAU/instafix/internal/fetcher/colly"
	"github.com/JakeFAU/instafix/internal/grid"
	"github.com/JakeFAU/instafix/internal/mediaurl"
	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/resolver"
	"github.com/JakeFAU/instafix/internal/storage"
	"github.com/JakeFAU/instafix/internal/storage/gcs"
	"github.com/JakeFAU/instafix/internal/storage/local"
	memorystorage "github.com/JakeFAU/instafix/internal/storage/memory"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// App holds the shared, long-lived services built once at startup.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    cache.Store
	resolver *resolver.Resolver
	grid     *grid.Compositor
	server   *api.Server
	closers  []func() error
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Resolver returns the post resolver.
func (a *App) Resolver() *resolver.Resolver { return a.resolver }

// Grid returns the grid compositor.
func (a *App) Grid() *grid.Compositor { return a.grid }

// CacheStore returns the configured post cache backend.
func (a *App) CacheStore() cache.Store { return a.store }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Resolve resolves one post through the shared resolver.
func (a *App) Resolve(ctx context.Context, postID string) post.Post {
	return a.resolver.Resolve(ctx, postID)
}

// Warm seeds the grid LRU from the grid store.
func (a *App) Warm(ctx context.Context) (int, error) {
	return a.grid.Warm(ctx)
}

// Sweeper returns the cache backend's sweeper, or nil when the backend expires
// entries itself.
func (a *App) Sweeper() cache.Sweeper {
	if s, ok := a.store.(cache.Sweeper); ok {
		return s
	}
	return nil
}

// New builds every service from cfg and fails fast if any cannot start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("grid_backend", cfg.Grid.Backend),
		zap.Bool("query_enabled", cfg.Query.Enabled),
	)
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	primary, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.Timeout,
		Proxies:   cfg.Upstream.Proxies,
	})
	if err != nil {
		return fmt.Errorf("primary fetcher: %w", err)
	}

	store, err := a.cacheStore(ctx)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	policy := upstream.RetryPolicy{
		MaxAttempts: cfg.Upstream.MaxAttempts,
		Delay:       cfg.Upstream.RetryDelay,
		Retryable:   upstream.IsTransient,
	}
	endpoints := upstream.DefaultEndpoints()
	rewriter := mediaurl.Rewriter{CDNHost: cfg.Upstream.CDNHost, RelayBase: cfg.Relay.BaseURL}

	escalation, err := a.escalation(primary, endpoints, policy)
	if err != nil {
		return err
	}

	a.resolver, err = resolver.New(resolver.Options{
		Fetcher:    primary,
		Cache:      cache.NewPostCache(store),
		Escalation: escalation,
		Rewriter:   rewriter,
		Endpoints:  endpoints,
		Policy:     policy,
		UserAgent:  cfg.Upstream.UserAgent,
		SuccessTTL: cfg.Cache.SuccessTTL,
		ErrorTTL:   cfg.Cache.ErrorTTL,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	blobs, err := a.gridStore(ctx)
	if err != nil {
		return err
	}
	media, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Grid.DownloadTimeout,
	})
	if err != nil {
		return fmt.Errorf("media fetcher: %w", err)
	}
	a.grid, err = grid.New(grid.Options{
		Store:           blobs,
		Fetcher:         media,
		Policy:          upstream.NoRetry(),
		DownloadTimeout: cfg.Grid.DownloadTimeout,
		RPS:             cfg.Grid.RPS,
		Gap:             cfg.Grid.Gap,
		Quality:         cfg.Grid.Quality,
		MaxEntries:      uint32(cfg.Grid.MaxEntries),
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}

	a.server = api.NewServer(api.Options{
		Resolver:       a.resolver,
		Grid:           a.grid,
		Ready:          store,
		Rewriter:       rewriter,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         a.logger,
	})
	return nil
}

func (a *App) cacheStore(ctx context.Context) (cache.Store, error) {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case config.BackendMemory:
		return memorycache.New(nil), nil
	case config.BackendRedis:
		s, err := rediscache.New(rediscache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		s, err := postgrescache.New(ctx, postgrescache.Config{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
		if err != nil {
			return nil, fmt.Errorf("postgres cache: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func (a *App) escalation(primary upstream.Fetcher, endpoints upstream.Endpoints, policy upstream.RetryPolicy) ([]extract.Strategy, error) {
	cfg := a.cfg
	var out []extract.Strategy
	if cfg.Upstream.StructuredFallback {
		out = append(out, extract.StructuredMetadata{
			Fetcher:   primary,
			Endpoints: endpoints,
			Policy:    policy,
			UserAgent: cfg.Upstream.UserAgent,
			Observe:   resolver.ObserveAttempts("canonical", a.logger),
		})
	}
	if cfg.Query.Enabled {
		secondary, err := collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Upstream.UserAgent,
			Timeout:   cfg.Query.Timeout,
			Proxies:   cfg.Query.Proxies,
		})
		if err != nil {
			return nil, fmt.Errorf("query fetcher: %w", err)
		}
		out = append(out, extract.QueryService{
			Fetcher:   secondary,
			Endpoint:  cfg.Query.Endpoint,
			QueryHash: cfg.Query.Hash,
			Endpoints: endpoints,
			MediaInfo: cfg.Query.MediaInfo,
			Policy:    upstream.NoRetry(),
			Observe:   resolver.ObserveAttempts("query", a.logger),
		})
	}
	return out, nil
}

func (a *App) gridStore(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.cfg.Grid
	switch cfg.Backend {
	case config.BackendLocal:
		s, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local grid store: %w", err)
		}
		return s, nil
	case config.BackendMemory:
		return memorystorage.NewBlobStore(), nil
	case config.BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs grid store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown grid backend: %s", cfg.Backend)
	}
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
