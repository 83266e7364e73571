// Package resolver turns a post id into a post record. It consults the
// cache, fetches the embed page under the retry policy, walks the extraction
// strategies in priority order and caches whatever it ends up with.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/instafix/internal/cache"
	"github.com/JakeFAU/instafix/internal/extract"
	"github.com/JakeFAU/instafix/internal/mediaurl"
	"github.com/JakeFAU/instafix/internal/metrics"
	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/shortcode"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// MaxPostIDLength bounds accepted post ids.
const MaxPostIDLength = 64

const (
	reasonInvalidID = "invalid post id"
	reasonCanceled  = "request canceled"
	reasonNotFound  = "post not found"
)

// Options wires a Resolver.
type Options struct {
	// Fetcher is the primary fetcher used for the embed page.
	Fetcher upstream.Fetcher
	Cache   *cache.PostCache
	// Escalation strategies run in order after the embed strategies come up
	// empty or blocked. They fetch their own artifacts.
	Escalation []extract.Strategy
	Rewriter   mediaurl.Rewriter
	Endpoints  upstream.Endpoints
	Policy     upstream.RetryPolicy
	UserAgent  string
	SuccessTTL time.Duration
	ErrorTTL   time.Duration
	// DisableCollapse turns off singleflight collapsing of concurrent misses.
	DisableCollapse bool
	Logger          *zap.Logger
}

// Resolver is safe for concurrent use.
type Resolver struct {
	fetcher    upstream.Fetcher
	posts      *cache.PostCache
	embed      []extract.Strategy
	escalation []extract.Strategy
	rewriter   mediaurl.Rewriter
	endpoints  upstream.Endpoints
	policy     upstream.RetryPolicy
	userAgent  string
	successTTL time.Duration
	errorTTL   time.Duration
	collapse   bool
	group      singleflight.Group
	logger     *zap.Logger
}

// New validates opts and builds a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("resolver: fetcher is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("resolver: cache is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoints := opts.Endpoints
	if endpoints.Web == "" {
		endpoints = upstream.DefaultEndpoints()
	}
	successTTL := opts.SuccessTTL
	if successTTL <= 0 {
		successTTL = cache.DefaultSuccessTTL
	}
	errorTTL := opts.ErrorTTL
	if errorTTL <= 0 {
		errorTTL = cache.DefaultErrorTTL
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = upstream.DefaultRetryPolicy()
	}
	return &Resolver{
		fetcher:    opts.Fetcher,
		posts:      opts.Cache,
		embed:      []extract.Strategy{extract.InlineJSON{}, extract.TokenizedScript{}, extract.HTMLStructure{}},
		escalation: append([]extract.Strategy(nil), opts.Escalation...),
		rewriter:   opts.Rewriter,
		endpoints:  endpoints,
		policy:     policy,
		userAgent:  opts.UserAgent,
		successTTL: successTTL,
		errorTTL:   errorTTL,
		collapse:   !opts.DisableCollapse,
		logger:     logger.Named("resolver"),
	}, nil
}

// ValidID reports whether postID is acceptable as a cache key and upstream path.
func ValidID(postID string) bool {
	return len(postID) <= MaxPostIDLength && shortcode.Valid(postID)
}

// outcome is what a single resolution produced before it is handed out.
type outcome struct {
	post     post.Post
	canceled bool
}

// Resolve never fails: problems surface as an error record.
func (r *Resolver) Resolve(ctx context.Context, postID string) post.Post {
	if !ValidID(postID) {
		metrics.ObserveResolution("none", "invalid")
		return post.Failure(postID, reasonInvalidID)
	}

	if p, ok := r.cached(ctx, postID); ok {
		return p
	}

	if !r.collapse {
		return r.resolveAndStore(ctx, postID).post
	}

	ch := r.group.DoChan(postID, func() (any, error) {
		return r.resolveAndStore(ctx, postID), nil
	})
	select {
	case <-ctx.Done():
		return post.Failure(postID, reasonCanceled)
	case res := <-ch:
		out := res.Val.(outcome)
		// The leader was canceled but this caller is still live.
		if out.canceled && ctx.Err() == nil {
			return r.resolveAndStore(ctx, postID).post
		}
		return out.post.Clone()
	}
}

func (r *Resolver) cached(ctx context.Context, postID string) (post.Post, bool) {
	p, ok, err := r.posts.Get(ctx, postID)
	switch {
	case err != nil:
		metrics.ObserveCacheRequest("error")
		r.logger.Warn("cache read failed", zap.String("post_id", postID), zap.Error(err))
		return post.Post{}, false
	case ok:
		metrics.ObserveCacheRequest("hit")
		return p, true
	default:
		metrics.ObserveCacheRequest("miss")
		return post.Post{}, false
	}
}

func (r *Resolver) resolveAndStore(ctx context.Context, postID string) outcome {
	start := time.Now()
	p, strategy, status := r.resolve(ctx, postID)
	metrics.ObserveResolution(strategy, status)

	if status == "canceled" {
		r.logger.Debug("resolution canceled", zap.String("post_id", postID))
		return outcome{post: p, canceled: true}
	}
	if !p.Failed() {
		p = p.MapURLs(r.rewriter.Rewrite)
	}

	ttl := r.successTTL
	if p.Failed() {
		ttl = r.errorTTL
	}
	// Cache writes outlive the caller's context.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.posts.Set(writeCtx, p, ttl); err != nil {
		r.logger.Warn("cache write failed", zap.String("post_id", postID), zap.Error(err))
	}

	r.logger.Info("post resolved",
		zap.String("post_id", postID),
		zap.String("strategy", strategy),
		zap.String("outcome", status),
		zap.Int("media", len(p.Media)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome{post: p}
}

// resolve walks the strategies. The first usable, unblocked record wins; the
// first blocked record in priority order is kept as the last resort.
func (r *Resolver) resolve(ctx context.Context, postID string) (post.Post, string, string) {
	var (
		lastResort     *extract.Result
		lastResortName string
	)
	consider := func(s extract.Strategy, res extract.Result) bool {
		logger := r.logger.With(zap.String("post_id", postID), zap.String("strategy", s.Name()))
		switch {
		case res.Usable() && !res.Blocked:
			return true
		case res.Usable():
			logger.Debug("blocked record")
			if lastResort == nil {
				kept := res
				lastResort, lastResortName = &kept, s.Name()
			}
		case res.Applicable():
			logger.Debug("strategy failed", zap.Error(res.Err))
		}
		return false
	}

	artifact, err := r.fetchEmbed(ctx, postID)
	if err != nil {
		if ctx.Err() != nil {
			return post.Failure(postID, reasonCanceled), "none", "canceled"
		}
		r.logger.Debug("embed fetch failed", zap.String("post_id", postID), zap.Error(err))
	} else {
		for _, s := range r.embed {
			if res := s.Extract(ctx, postID, artifact); consider(s, res) {
				return res.Post, s.Name(), "success"
			}
		}
	}

	for _, s := range r.escalation {
		if ctx.Err() != nil {
			return post.Failure(postID, reasonCanceled), "none", "canceled"
		}
		if res := s.Extract(ctx, postID, extract.Artifact{}); consider(s, res) {
			return res.Post, s.Name(), "success"
		}
	}

	if ctx.Err() != nil {
		return post.Failure(postID, reasonCanceled), "none", "canceled"
	}
	if lastResort != nil {
		return lastResort.Post, lastResortName, "blocked"
	}
	return post.Failure(postID, reasonNotFound), "none", "not_found"
}

func (r *Resolver) fetchEmbed(ctx context.Context, postID string) (extract.Artifact, error) {
	headers := upstream.BrowserHeaders()
	if r.userAgent != "" {
		headers.Set("User-Agent", r.userAgent)
	}
	resp, err := upstream.Fetch(ctx, r.fetcher, upstream.Request{
		URL:     r.endpoints.Embed(postID),
		Headers: headers,
		Target:  "embed",
	}, r.policy, ObserveAttempts("embed", r.logger))
	if err != nil {
		return extract.Artifact{}, fmt.Errorf("fetch embed: %w", err)
	}
	return extract.Artifact{URL: resp.URL, Body: resp.Body}, nil
}

// ObserveAttempts returns an AttemptFunc that records metrics and logs retries.
func ObserveAttempts(target string, logger *zap.Logger) upstream.AttemptFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(attempt int, err error) {
		metrics.ObserveFetchAttempt(target, err)
		if err != nil {
			logger.Debug("upstream attempt failed",
				zap.String("target", target),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
	}
}
