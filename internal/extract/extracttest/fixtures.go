// Package extracttest builds upstream page fixtures for tests.
package extracttest

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Item describes one media node in a generated payload.
type Item struct {
	Video bool
	URL   string
	// Withheld drops video_url from a video node.
	Withheld bool
}

// Images is shorthand for image-only items.
func Images(urls ...string) []Item {
	items := make([]Item, len(urls))
	for i, u := range urls {
		items[i] = Item{URL: u}
	}
	return items
}

// ShortcodeMedia returns a GraphQL shortcode_media object as JSON.
func ShortcodeMedia(username, caption string, items ...Item) string {
	node := func(it Item) map[string]any {
		typename := "GraphImage"
		n := map[string]any{
			"display_url": it.URL,
			"dimensions":  map[string]int{"width": 1080, "height": 1350},
			"is_video":    it.Video,
		}
		if it.Video {
			typename = "GraphVideo"
			n["display_url"] = it.URL + ".thumb.jpg"
			if !it.Withheld {
				n["video_url"] = it.URL
			}
		}
		n["__typename"] = typename
		return n
	}

	var media map[string]any
	if len(items) == 1 {
		media = node(items[0])
	} else {
		edges := make([]map[string]any, 0, len(items))
		for _, it := range items {
			edges = append(edges, map[string]any{"node": node(it)})
		}
		media = map[string]any{
			"__typename":               "GraphSidecar",
			"display_url":              items[0].URL,
			"edge_sidecar_to_children": map[string]any{"edges": edges},
		}
	}
	media["owner"] = map[string]string{"username": username}
	media["edge_media_to_caption"] = map[string]any{
		"edges": []map[string]any{{"node": map[string]string{"text": caption}}},
	}
	return mustJSON(media)
}

// InlineEmbed wraps media in the inline data loader call.
func InlineEmbed(media string) string {
	return "<!DOCTYPE html><html><head><title>Embed</title></head><body>\n" +
		`<script type="text/javascript">window.__additionalDataLoaded('extra',{"graphql":{"shortcode_media":` +
		media + `}});</script>` + "\n</body></html>"
}

// ScriptEmbed embeds media as a JSON string literal inside a scheduler script.
func ScriptEmbed(media string) string {
	payload := `{"gql_data":{"shortcode_media":` + media + `}}`
	literal := mustJSON(payload)
	return "<!DOCTYPE html><html><head></head><body>\n" +
		`<script>requireLazy(["TimeSliceImpl","ServerJS"],function(TimeSlice,ServerJS){(new ServerJS()).handle({"require":[["PolarisEmbedSimple","init",[],[{"contextJSON":` +
		literal + `}]]]});});</script>` + "\n</body></html>"
}

// HTMLEmbed renders the class-based embed markup.
func HTMLEmbed(username, caption, mediaURL string, video, blocked bool) string {
	mediaClass := "EmbeddedMediaImage"
	tag := "img"
	if video {
		mediaClass = "EmbeddedMediaVideo"
		tag = "video"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><body><div class=\"Embed\">\n")
	fmt.Fprintf(&b, "<a class=\"UsernameText\">%s</a>\n", html.EscapeString(username))
	fmt.Fprintf(&b, "<%s class=\"%s\" src=\"%s\"></%s>\n", tag, mediaClass, html.EscapeString(mediaURL), tag)
	if blocked {
		b.WriteString("<div class=\"WatchOnInstagram\">Watch on Instagram</div>\n")
	}
	lines := strings.Split(caption, "\n")
	for i := range lines {
		lines[i] = html.EscapeString(lines[i])
	}
	fmt.Fprintf(&b, "<div class=\"Caption\"><a class=\"CaptionUsername\">%s</a>%s<div class=\"CaptionComments\">12 comments</div></div>\n",
		html.EscapeString(username), strings.Join(lines, "<br>"))
	b.WriteString("</div></body></html>")
	return b.String()
}

// LDPage renders a canonical page carrying the given ld+json document.
func LDPage(doc any) string {
	return "<!DOCTYPE html><html><head>" +
		`<script type="application/ld+json">` + mustJSON(doc) + `</script>` +
		"</head><body></body></html>"
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
