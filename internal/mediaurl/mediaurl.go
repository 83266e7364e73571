// Package mediaurl rewrites media URLs before they are cached or handed to clients.
package mediaurl

import (
	"net/url"
	"strings"
)

// DefaultCDNHost is the host every media URL is pinned to.
const DefaultCDNHost = "scontent.cdninstagram.com"

// Rewriter substitutes CDN hosts and wraps video URLs in the relay.
// Both operations are pure and idempotent.
type Rewriter struct {
	CDNHost   string
	RelayBase string
}

// Rewrite replaces the host of an absolute http(s) URL with CDNHost.
// Anything it cannot parse is returned unchanged.
func (r Rewriter) Rewrite(raw string) string {
	if r.CDNHost == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}
	if u.Host == r.CDNHost {
		return raw
	}
	u.Host = r.CDNHost
	return u.String()
}

// Relay wraps raw in the relay endpoint when one is configured.
func (r Rewriter) Relay(raw string) string {
	if r.RelayBase == "" || raw == "" || r.Relayed(raw) {
		return raw
	}
	return r.RelayBase + "?url=" + url.QueryEscape(raw)
}

// Relayed reports whether raw already points at the relay.
func (r Rewriter) Relayed(raw string) bool {
	return r.RelayBase != "" && strings.HasPrefix(raw, r.RelayBase+"?url=")
}
