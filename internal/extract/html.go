package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// BlockedMarker appears on embed pages whose video playback is withheld.
const BlockedMarker = "WatchOnInstagram"

// HTMLStructure reads the rendered embed markup by class name.
type HTMLStructure struct{}

// Name implements Strategy.
func (HTMLStructure) Name() string { return "html_structure" }

// Extract implements Strategy.
func (HTMLStructure) Extract(_ context.Context, postID string, artifact Artifact) Result {
	if len(artifact.Body) == 0 {
		return fail(upstream.ErrNotApplicable)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(artifact.Body))
	if err != nil {
		return fail(fmt.Errorf("%w: parse embed html: %w", upstream.ErrInvalidShape, err))
	}
	blocked := bytes.Contains(artifact.Body, []byte(BlockedMarker))

	kind := post.KindImage
	media := doc.Find(".EmbeddedMediaImage").First()
	if media.Length() == 0 {
		kind = post.KindVideo
		media = doc.Find(".EmbeddedMediaVideo").First()
	}
	src, ok := media.Attr("src")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		if blocked {
			return fail(fmt.Errorf("%w: embed media withheld", upstream.ErrBlocked))
		}
		return fail(upstream.ErrNotApplicable)
	}

	username := strings.TrimSpace(doc.Find(".UsernameText").First().Text())

	doc.Find(".CaptionComments").Remove()
	doc.Find(".CaptionUsername").Remove()
	captionSel := doc.Find(".Caption").First()
	captionSel.Find("br").ReplaceWithHtml("\n")
	caption := strings.TrimSpace(captionSel.Text())

	p, err := post.New(postID, username, caption, []post.Media{{Kind: kind, URL: src}})
	if err != nil {
		return fail(fmt.Errorf("%w: %w", upstream.ErrInvalidShape, err))
	}
	return found(p, blocked)
}
