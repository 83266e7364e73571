package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/instafix/internal/grid"
	"github.com/JakeFAU/instafix/internal/mediaurl"
	"github.com/JakeFAU/instafix/internal/metrics"
	"github.com/JakeFAU/instafix/internal/post"
)

// DefaultRequestTimeout bounds a request when Options leaves it unset.
const DefaultRequestTimeout = 120 * time.Second

// Resolver turns a post id into a record.
type Resolver interface {
	Resolve(ctx context.Context, postID string) post.Post
}

// Compositor builds grid images.
type Compositor interface {
	Compose(ctx context.Context, postID string, urls []string) (grid.Result, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server.
type Options struct {
	Resolver Resolver
	Grid     Compositor
	// Ready is pinged by /readyz; nil means always ready.
	Ready          Pinger
	Rewriter       mediaurl.Rewriter
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the resolver and the grid compositor.
type Server struct {
	router   chi.Router
	resolver Resolver
	grid     Compositor
	ready    Pinger
	rewriter mediaurl.Rewriter
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	s := &Server{
		resolver: opts.Resolver,
		grid:     opts.Grid,
		ready:    opts.Ready,
		rewriter: opts.Rewriter,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(s.logger))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/api/posts/{postID}", s.getPost)
	r.Get("/p/{postID}", s.getPost)
	r.Get("/reel/{postID}", s.getPost)
	r.Get("/reels/{postID}", s.getPost)
	r.Get("/tv/{postID}", s.getPost)
	r.Get("/stories/{username}/{mediaID}", s.getStory)
	r.Get("/{username}/p/{postID}", s.getPost)
	r.Get("/images/{postID}/{n}", s.getImage)
	r.Get("/videos/{postID}/{n}", s.getVideo)
	r.Get("/grid/{postID}", s.getGrid)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "cache unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
