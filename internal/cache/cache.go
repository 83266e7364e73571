// Package cache keeps resolved posts for a bounded time so repeat lookups
// skip upstream entirely. Backends live in the memory, redis and postgres
// subpackages; PostCache layers the record codec on top of any of them.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSuccessTTL bounds how long a resolved post is served from cache.
	DefaultSuccessTTL = 24 * time.Hour
	// DefaultErrorTTL bounds negative caching of error records.
	DefaultErrorTTL = 10 * time.Minute
	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = time.Minute
)

// Store is a byte-oriented key/value store with per-entry expiry.
// Expired entries must never be returned by Get.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by backends that must purge expired entries themselves.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Clock abstracts time for expiry decisions.
type Clock interface {
	Now() time.Time
}

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("cache sweep", zap.Int("removed", removed))
			}
		}
	}
}
