package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/shortcode"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// DefaultQueryHash identifies the persisted post query on the query endpoint.
const DefaultQueryHash = "b3055c01b4b222b8a47dc12b090e4e64"

// QueryService asks the secondary query endpoint for the post directly, then
// optionally the per-media info path. Only replies with status "ok" are accepted.
type QueryService struct {
	Fetcher   upstream.Fetcher
	Endpoint  string
	QueryHash string
	Endpoints upstream.Endpoints
	// MediaInfo enables the per-media info fallback.
	MediaInfo bool
	Policy    upstream.RetryPolicy
	Observe   upstream.AttemptFunc
}

// Name implements Strategy.
func (QueryService) Name() string { return "query_service" }

// Extract implements Strategy. The embed artifact is ignored.
func (q QueryService) Extract(ctx context.Context, postID string, _ Artifact) Result {
	if q.Fetcher == nil || q.Endpoint == "" {
		return fail(upstream.ErrNotApplicable)
	}
	res := q.query(ctx, postID)
	if res.Usable() || !q.MediaInfo || ctx.Err() != nil {
		return res
	}
	if info := q.mediaInfo(ctx, postID); info.Usable() {
		return info
	}
	return res
}

func (q QueryService) query(ctx context.Context, postID string) Result {
	variables, err := json.Marshal(map[string]string{"shortcode": postID})
	if err != nil {
		return fail(fmt.Errorf("encode variables: %w", err))
	}
	hash := q.QueryHash
	if hash == "" {
		hash = DefaultQueryHash
	}
	params := url.Values{}
	params.Set("query_hash", hash)
	params.Set("variables", string(variables))

	target := q.Endpoint
	if strings.Contains(target, "?") {
		target += "&" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}
	body, err := q.get(ctx, target, "query")
	if err != nil {
		return fail(err)
	}
	p, blocked, err := mapGQL(postID, gjson.GetBytes(body, "data"))
	if err != nil {
		return fail(err)
	}
	return found(p, blocked)
}

func (q QueryService) mediaInfo(ctx context.Context, postID string) Result {
	mediaID, err := shortcode.Decode(postID)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", upstream.ErrNotApplicable, err))
	}
	body, err := q.get(ctx, q.Endpoints.MediaInfo(mediaID), "media_info")
	if err != nil {
		return fail(err)
	}
	p, err := mapMediaInfo(postID, gjson.GetBytes(body, "items.0"))
	if err != nil {
		return fail(err)
	}
	return found(p, false)
}

// get fetches target and enforces the "ok" status marker.
func (q QueryService) get(ctx context.Context, target, label string) ([]byte, error) {
	resp, err := upstream.Fetch(ctx, q.Fetcher, upstream.Request{
		URL:     target,
		Headers: upstream.APIHeaders(),
		Target:  label,
	}, q.Policy, q.Observe)
	if err != nil {
		return nil, err
	}
	if bytes.Contains(resp.Body, []byte("require_login")) {
		return nil, fmt.Errorf("%w: %s requires login", upstream.ErrBlocked, label)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("%w: %s reply is not JSON", upstream.ErrInvalidShape, label)
	}
	switch status := gjson.GetBytes(resp.Body, "status").String(); status {
	case "ok":
		return resp.Body, nil
	case "fail":
		return nil, fmt.Errorf("%w: %s status fail", upstream.ErrBlocked, label)
	default:
		return nil, fmt.Errorf("%w: %s status %q", upstream.ErrInvalidShape, label, status)
	}
}

var errNoInfoItem = errors.New("media info without items")

func mapMediaInfo(postID string, item gjson.Result) (post.Post, error) {
	if !item.Exists() {
		return post.Post{}, fmt.Errorf("%w: %w", upstream.ErrInvalidShape, errNoInfoItem)
	}
	nodes := []gjson.Result{item}
	if carousel := item.Get("carousel_media"); carousel.IsArray() {
		nodes = carousel.Array()
	}
	media := make([]post.Media, 0, len(nodes))
	for _, n := range nodes {
		if v := n.Get("video_versions.0"); v.Exists() {
			media = append(media, post.Media{
				Kind:   post.KindVideo,
				URL:    v.Get("url").String(),
				Width:  post.Dimension(v.Get("width").Int()),
				Height: post.Dimension(v.Get("height").Int()),
			})
			continue
		}
		if c := n.Get("image_versions2.candidates.0"); c.Exists() {
			media = append(media, post.Media{
				Kind:   post.KindImage,
				URL:    c.Get("url").String(),
				Width:  post.Dimension(c.Get("width").Int()),
				Height: post.Dimension(c.Get("height").Int()),
			})
		}
	}
	filtered := media[:0]
	for _, m := range media {
		if m.URL != "" {
			filtered = append(filtered, m)
		}
	}
	p, err := post.New(postID, item.Get("user.username").String(), strings.TrimSpace(item.Get("caption.text").String()), filtered)
	if err != nil {
		return post.Post{}, fmt.Errorf("%w: %w", upstream.ErrInvalidShape, err)
	}
	return p, nil
}
