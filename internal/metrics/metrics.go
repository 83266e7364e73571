// Package metrics exposes Prometheus collectors for the resolution service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolutionsTotal           *prometheus.CounterVec
	cacheRequestsTotal         *prometheus.CounterVec
	upstreamFetchAttemptsTotal *prometheus.CounterVec
	gridCompositionsTotal      *prometheus.CounterVec
	gridRateLimitDelaySeconds  prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instafix_resolutions_total",
				Help: "Total number of post resolutions, labeled by winning strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instafix_cache_requests_total",
				Help: "Total number of post cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		upstreamFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instafix_upstream_fetch_attempts_total",
				Help: "Total number of upstream fetch attempts, labeled by target and outcome.",
			},
			[]string{"target", "outcome"},
		)

		gridCompositionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instafix_grid_compositions_total",
				Help: "Total number of grid composition requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		gridRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "instafix_grid_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the grid rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The Observe helpers initialize lazily so library callers need no setup.

// ObserveResolution records which strategy produced a record and how it ended.
func ObserveResolution(strategy, outcome string) {
	Init()
	resolutionsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveCacheRequest records a cache lookup result ("hit", "miss" or "error").
func ObserveCacheRequest(result string) {
	Init()
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchAttempt records a single upstream attempt.
func ObserveFetchAttempt(target string, err error) {
	Init()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	upstreamFetchAttemptsTotal.WithLabelValues(target, outcome).Inc()
}

// ObserveGridComposition records a grid request outcome.
func ObserveGridComposition(outcome string) {
	Init()
	gridCompositionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGridRateLimitDelay records the duration of a rate limit wait.
func ObserveGridRateLimitDelay(duration time.Duration) {
	Init()
	gridRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
