package extract

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// mapGQL converts a GraphQL-shaped payload into a record. The bool result is
// true when a video item lacks its video URL, which is how upstream withholds
// playback from anonymous callers.
func mapGQL(postID string, root gjson.Result) (post.Post, bool, error) {
	status := root.Get("status").String()
	item := firstPresent(root, "shortcode_media", "xdt_shortcode_media")
	if !item.Exists() {
		if status == "fail" {
			return post.Post{}, false, fmt.Errorf("%w: graphql status fail", upstream.ErrBlocked)
		}
		return post.Post{}, false, fmt.Errorf("%w: shortcode_media missing", upstream.ErrInvalidShape)
	}

	nodes := []gjson.Result{item}
	if edges := item.Get("edge_sidecar_to_children.edges"); edges.IsArray() {
		nodes = edges.Array()
	}

	var (
		media   = make([]post.Media, 0, len(nodes))
		blocked bool
	)
	for _, n := range nodes {
		if inner := n.Get("node"); inner.Exists() {
			n = inner
		}
		m, withheld, ok := gqlMedia(n)
		if !ok {
			continue
		}
		blocked = blocked || withheld
		media = append(media, m)
	}
	if len(media) == 0 {
		return post.Post{}, false, fmt.Errorf("%w: no media nodes", upstream.ErrInvalidShape)
	}

	caption := strings.TrimSpace(item.Get("edge_media_to_caption.edges.0.node.text").String())
	p, err := post.New(postID, item.Get("owner.username").String(), caption, media)
	if err != nil {
		return post.Post{}, false, fmt.Errorf("%w: %w", upstream.ErrInvalidShape, err)
	}
	return p, blocked, nil
}

func gqlMedia(n gjson.Result) (post.Media, bool, bool) {
	isVideo := n.Get("is_video").Bool() || strings.Contains(n.Get("__typename").String(), "Video")
	m := post.Media{
		Kind:   post.KindImage,
		URL:    n.Get("display_url").String(),
		Width:  post.Dimension(n.Get("dimensions.width").Int()),
		Height: post.Dimension(n.Get("dimensions.height").Int()),
	}
	withheld := false
	if isVideo {
		if v := n.Get("video_url").String(); v != "" {
			m.Kind = post.KindVideo
			m.URL = v
		} else {
			withheld = true
		}
	}
	if m.URL == "" {
		return post.Media{}, false, false
	}
	return m, withheld, true
}

func firstPresent(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := root.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}
