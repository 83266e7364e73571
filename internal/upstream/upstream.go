// Package upstream defines how the resolver talks to the post source: request
// shapes, endpoint templates, the error taxonomy, and the retry policy.
package upstream

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Request describes a single outbound call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers http.Header
	// Target labels the call for metrics, e.g. "embed" or "query".
	Target string
}

// Response captures the upstream reply.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs one HTTP exchange. Implementations classify failures with
// Classify so callers can rely on errors.Is against the taxonomy.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Endpoints holds the upstream URL templates.
type Endpoints struct {
	// Web is the origin serving embed and canonical post pages.
	Web string
	// API is the origin serving the per-media info path.
	API string
}

// DefaultEndpoints returns the production origins.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Web: "https://www.instagram.com",
		API: "https://i.instagram.com",
	}
}

// Embed returns the captioned embed page for postID.
func (e Endpoints) Embed(postID string) string {
	return strings.TrimRight(e.Web, "/") + "/p/" + postID + "/embed/captioned/"
}

// Canonical returns the regular post page for postID.
func (e Endpoints) Canonical(postID string) string {
	return strings.TrimRight(e.Web, "/") + "/p/" + postID + "/"
}

// MediaInfo returns the info path for a numeric media id.
func (e Endpoints) MediaInfo(mediaID uint64) string {
	return strings.TrimRight(e.API, "/") + "/api/v1/media/" + strconv.FormatUint(mediaID, 10) + "/info/"
}

// DefaultUserAgent is sent when no override is configured.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// BrowserHeaders returns the header set used for page fetches.
func BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// APIHeaders returns the header set used for JSON endpoints.
func APIHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("X-IG-App-ID", "936619743392459")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	return h
}
