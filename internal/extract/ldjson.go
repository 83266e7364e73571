package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// StructuredMetadata fetches the canonical post page and maps its ld+json block.
type StructuredMetadata struct {
	Fetcher   upstream.Fetcher
	Endpoints upstream.Endpoints
	Policy    upstream.RetryPolicy
	UserAgent string
	// Observe receives each fetch attempt; optional.
	Observe upstream.AttemptFunc
}

// Name implements Strategy.
func (StructuredMetadata) Name() string { return "structured_metadata" }

// Extract implements Strategy. The embed artifact is ignored.
func (s StructuredMetadata) Extract(ctx context.Context, postID string, _ Artifact) Result {
	if s.Fetcher == nil {
		return fail(upstream.ErrNotApplicable)
	}
	headers := upstream.BrowserHeaders()
	if s.UserAgent != "" {
		headers.Set("User-Agent", s.UserAgent)
	}
	resp, err := upstream.Fetch(ctx, s.Fetcher, upstream.Request{
		URL:     s.Endpoints.Canonical(postID),
		Headers: headers,
		Target:  "canonical",
	}, s.Policy, s.Observe)
	if err != nil {
		return fail(err)
	}
	return ParseStructuredMetadata(postID, resp.Body)
}

// ParseStructuredMetadata maps the first ld+json document in page that carries media.
func ParseStructuredMetadata(postID string, page []byte) Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return fail(fmt.Errorf("%w: parse canonical html: %w", upstream.ErrInvalidShape, err))
	}
	scripts := doc.Find(`script[type="application/ld+json"]`)
	if scripts.Length() == 0 {
		return fail(upstream.ErrNotApplicable)
	}

	res := fail(fmt.Errorf("%w: ld+json without media", upstream.ErrInvalidShape))
	scripts.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := strings.TrimSpace(sel.Text())
		if !gjson.Valid(raw) {
			return true
		}
		for _, obj := range ldObjects(gjson.Parse(raw)) {
			if p, ok := mapLD(postID, obj); ok {
				res = found(p, false)
				return false
			}
		}
		return true
	})
	return res
}

// ldObjects flattens a document that may be an object, a list, or an @graph.
func ldObjects(root gjson.Result) []gjson.Result {
	if root.IsArray() {
		return root.Array()
	}
	if graph := root.Get("@graph"); graph.IsArray() {
		return append([]gjson.Result{root}, graph.Array()...)
	}
	return []gjson.Result{root}
}

func mapLD(postID string, obj gjson.Result) (post.Post, bool) {
	var media []post.Media
	thumbs := map[string]bool{}
	eachOneOrMany(obj.Get("video"), func(v gjson.Result) {
		u := firstString(v, "contentUrl", "embedUrl", "url")
		if u == "" {
			return
		}
		if th := firstString(v, "thumbnailUrl"); th != "" {
			thumbs[th] = true
		}
		media = append(media, post.Media{
			Kind:   post.KindVideo,
			URL:    u,
			Width:  post.Dimension(v.Get("width").Int()),
			Height: post.Dimension(v.Get("height").Int()),
		})
	})
	eachOneOrMany(obj.Get("image"), func(v gjson.Result) {
		u := v.String()
		if v.IsObject() {
			u = firstString(v, "url", "contentUrl")
		}
		if u == "" || thumbs[u] {
			return
		}
		m := post.Media{Kind: post.KindImage, URL: u}
		if v.IsObject() {
			m.Width = post.Dimension(v.Get("width").Int())
			m.Height = post.Dimension(v.Get("height").Int())
		}
		media = append(media, m)
	})
	if len(media) == 0 {
		return post.Post{}, false
	}

	author := obj.Get("author")
	if author.IsArray() {
		author = author.Get("0")
	}
	username := strings.TrimPrefix(firstString(author, "alternateName", "identifier.value", "name"), "@")
	caption := strings.TrimSpace(firstString(obj, "caption", "articleBody", "description"))

	p, err := post.New(postID, username, caption, media)
	if err != nil {
		return post.Post{}, false
	}
	return p, true
}

func eachOneOrMany(r gjson.Result, fn func(gjson.Result)) {
	if !r.Exists() || r.Type == gjson.Null {
		return
	}
	if r.IsArray() {
		for _, v := range r.Array() {
			fn(v)
		}
		return
	}
	fn(r)
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(r.Get(p).String()); s != "" {
			return s
		}
	}
	return ""
}
