// Package grid composes the images of a multi-image post into one JPEG.
package grid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/instafix/internal/hash/blake3"
	"github.com/JakeFAU/instafix/internal/metrics"
	"github.com/JakeFAU/instafix/internal/policy/ratelimit"
	"github.com/JakeFAU/instafix/internal/shortcode"
	"github.com/JakeFAU/instafix/internal/storage"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// MaxImages is the most tiles a grid holds.
const MaxImages = 4

// Defaults applied by New for zero options.
const (
	DefaultGap             = 10
	DefaultQuality         = 75
	DefaultMaxEntries      = 10000
	DefaultDownloadTimeout = 10 * time.Second
)

const (
	pathPrefix  = "grid:"
	pathSuffix  = ".jpeg"
	limiterKey  = "grid"
	contentType = "image/jpeg"
)

var (
	// ErrNoImages is returned when there is nothing to compose.
	ErrNoImages = errors.New("no images to compose")
	// ErrInvalidPostID is returned for ids that cannot name a grid file.
	ErrInvalidPostID = errors.New("invalid post id")
)

// Result is either a redirect to the only image or a composed JPEG.
type Result struct {
	Redirect string
	Image    []byte
	Path     string
	ETag     string
}

// Options configures a Compositor.
type Options struct {
	Store   storage.BlobStore
	Fetcher upstream.Fetcher
	// Policy applies to each image download.
	Policy          upstream.RetryPolicy
	DownloadTimeout time.Duration
	// RPS caps new compositions per second; zero or less disables the cap.
	RPS        float64
	Gap        int
	Quality    int
	MaxEntries uint32
	Logger     *zap.Logger
}

// Compositor is safe for concurrent use.
type Compositor struct {
	store   storage.BlobStore
	fetcher upstream.Fetcher
	policy  upstream.RetryPolicy
	timeout time.Duration
	limiter *ratelimit.Limiter
	hasher  *blake3.Hasher
	gap     int
	quality int
	lru     *freelru.SyncedLRU[string, struct{}]
	logger  *zap.Logger
}

func hashPath(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// New builds a Compositor. Evicting a path from its LRU deletes the stored blob.
func New(opts Options) (*Compositor, error) {
	if opts.Store == nil {
		return nil, errors.New("grid: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("grid: fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compositor{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		policy:  opts.Policy,
		timeout: opts.DownloadTimeout,
		hasher:  blake3.New(),
		gap:     opts.Gap,
		quality: opts.Quality,
		logger:  logger.Named("grid"),
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = upstream.NoRetry()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultDownloadTimeout
	}
	if c.gap <= 0 {
		c.gap = DefaultGap
	}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = DefaultQuality
	}
	c.limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   opts.RPS,
		DefaultBurst: 1,
		OnDelay: func(_ string, d time.Duration) {
			metrics.ObserveGridRateLimitDelay(d)
		},
	})

	capacity := opts.MaxEntries
	if capacity == 0 {
		capacity = DefaultMaxEntries
	}
	lru, err := freelru.NewSynced[string, struct{}](capacity, hashPath)
	if err != nil {
		return nil, fmt.Errorf("grid: create lru: %w", err)
	}
	lru.SetOnEvict(func(path string, _ struct{}) {
		if err := c.store.Delete(context.Background(), path); err != nil {
			c.logger.Warn("evict grid", zap.String("path", path), zap.Error(err))
		}
	})
	c.lru = lru
	return c, nil
}

// Path returns the storage path of the grid for postID.
func Path(postID string) string {
	return pathPrefix + postID + pathSuffix
}

// Warm seeds the LRU with grids already in the store.
func (c *Compositor) Warm(ctx context.Context) (int, error) {
	paths, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list grids: %w", err)
	}
	n := 0
	for _, p := range paths {
		if !isGridPath(p) {
			continue
		}
		c.lru.Add(p, struct{}{})
		n++
	}
	return n, nil
}

func isGridPath(p string) bool {
	return strings.HasPrefix(p, pathPrefix) && strings.HasSuffix(p, pathSuffix)
}

// Compose returns the grid for postID built from urls in order. Only the
// first MaxImages urls are used; a single url yields a redirect.
func (c *Compositor) Compose(ctx context.Context, postID string, urls []string) (Result, error) {
	if !shortcode.Valid(postID) {
		return Result{}, ErrInvalidPostID
	}
	if len(urls) == 0 {
		metrics.ObserveGridComposition("empty")
		return Result{}, ErrNoImages
	}
	if len(urls) > MaxImages {
		urls = urls[:MaxImages]
	}
	if len(urls) == 1 {
		metrics.ObserveGridComposition("redirect")
		return Result{Redirect: urls[0]}, nil
	}

	path := Path(postID)
	data, err := c.store.Get(ctx, path)
	switch {
	case err == nil:
		c.lru.Add(path, struct{}{})
		metrics.ObserveGridComposition("hit")
		return Result{Image: data, Path: path, ETag: c.hasher.Hash(data)}, nil
	case !errors.Is(err, storage.ErrNotFound):
		c.logger.Warn("read stored grid", zap.String("path", path), zap.Error(err))
	}

	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		metrics.ObserveGridComposition("error")
		return Result{}, err
	}

	start := time.Now()
	images, err := c.download(ctx, urls)
	if err != nil {
		metrics.ObserveGridComposition("error")
		return Result{}, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, layout(images, c.gap), &jpeg.Options{Quality: c.quality}); err != nil {
		metrics.ObserveGridComposition("error")
		return Result{}, fmt.Errorf("encode grid: %w", err)
	}
	data = buf.Bytes()

	if _, err := c.store.PutObject(ctx, path, contentType, bytes.NewReader(data)); err != nil {
		c.logger.Warn("store grid", zap.String("path", path), zap.Error(err))
	} else {
		c.lru.Add(path, struct{}{})
	}
	metrics.ObserveGridComposition("composed")
	c.logger.Info("grid composed",
		zap.String("post_id", postID),
		zap.Int("images", len(images)),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Image: data, Path: path, ETag: c.hasher.Hash(data)}, nil
}

// download fetches and decodes every url concurrently. The first failure
// cancels the rest.
func (c *Compositor) download(ctx context.Context, urls []string) ([]image.Image, error) {
	images := make([]image.Image, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			resp, err := upstream.Fetch(dctx, c.fetcher, upstream.Request{
				URL:     u,
				Headers: upstream.BrowserHeaders(),
				Target:  "media",
			}, c.policy, func(_ int, err error) {
				metrics.ObserveFetchAttempt("media", err)
			})
			if err != nil {
				return fmt.Errorf("download image %d: %w", i+1, err)
			}
			img, err := decode(resp.Body)
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
