// Package collyfetcher implements upstream.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"
	"github.com/klauspost/compress/gzhttp"

	"github.com/JakeFAU/instafix/internal/upstream"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 32 << 20
)

// Config controls collector behavior for one proxy pool.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Proxies are rotated round-robin per request. Empty means a direct connection.
	Proxies     []string
	MaxBodySize int
}

// Fetcher implements upstream.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchState struct {
	result upstream.Response
	status int
	err    error
}

// New builds a Fetcher whose transport decompresses gzip and rotates proxies.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}

	baseTransport := newHTTPTransport()
	baseTransport.Proxy = nil
	if len(cfg.Proxies) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxies: %w", err)
		}
		baseTransport.Proxy = switcher
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.MaxBodySize = cfg.MaxBodySize
	c.WithTransport(gzhttp.Transport(baseTransport, gzhttp.TransportAlwaysDecompress(true)))
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}, nil
}

// Fetch executes a single HTTP exchange. Failures are classified with upstream.Classify.
func (f *Fetcher) Fetch(ctx context.Context, request upstream.Request) (upstream.Response, error) {
	state := &fetchState{}
	start := time.Now()
	collector := f.buildCollector(request, start, state)

	if err := f.runCollector(ctx, collector, request, state); err != nil {
		return upstream.Response{}, err
	}
	if err := upstream.Classify(request.URL, state.result.StatusCode, nil); err != nil {
		return state.result, err
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(request upstream.Request, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request upstream.Request,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result = upstream.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeader(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		state.err = err
		if r != nil {
			state.status = r.StatusCode
			state.result = upstream.Response{
				URL:        request.URL,
				StatusCode: r.StatusCode,
				Headers:    cloneHeader(r.Headers),
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request upstream.Request, state *fetchState) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}

	done := make(chan error, 1)
	go func() {
		if body == nil {
			done <- collector.Request(method, request.URL, nil, nil, request.Headers)
			return
		}
		done <- collector.Request(method, request.URL, body, nil, request.Headers)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = state.err
		}
		if err != nil {
			return upstream.Classify(request.URL, state.status, err)
		}
		return nil
	}
}

func copyHeaders(request upstream.Request, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func cloneHeader(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
