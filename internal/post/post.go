// Package post defines the canonical record every extraction strategy produces.
package post

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Kind tells images and videos apart.
type Kind string

const (
	// KindImage marks a still image.
	KindImage Kind = "image"
	// KindVideo marks a video whose URL may need relaying.
	KindVideo Kind = "video"
)

// UnknownUsername is used when upstream omits the author.
const UnknownUsername = "unknown"

// CaptionLimit is the rune budget applied by Truncate.
const CaptionLimit = 200

// ErrNoMedia is returned when a success record would carry no media.
var ErrNoMedia = errors.New("post has no media")

// Media is a single item of a post in display order.
type Media struct {
	Kind   Kind   `json:"kind" cbor:"1,keyasint"`
	URL    string `json:"url" cbor:"2,keyasint"`
	Width  *int   `json:"width,omitempty" cbor:"3,keyasint,omitempty"`
	Height *int   `json:"height,omitempty" cbor:"4,keyasint,omitempty"`
}

// Post is either a success record (Media populated) or an error record (Error populated).
type Post struct {
	PostID   string  `json:"post_id" cbor:"1,keyasint"`
	Username string  `json:"owner_username,omitempty" cbor:"2,keyasint,omitempty"`
	Caption  string  `json:"caption,omitempty" cbor:"3,keyasint,omitempty"`
	Media    []Media `json:"media_items,omitempty" cbor:"4,keyasint,omitempty"`
	Error    string  `json:"error,omitempty" cbor:"5,keyasint,omitempty"`
}

// New builds a success record. Media is copied so the caller keeps no alias.
func New(postID, username, caption string, media []Media) (Post, error) {
	if len(media) == 0 {
		return Post{}, ErrNoMedia
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = UnknownUsername
	}
	p := Post{
		PostID:   postID,
		Username: username,
		Caption:  caption,
		Media:    cloneMedia(media),
	}
	return p, nil
}

// Failure builds an error record for postID.
func Failure(postID, reason string) Post {
	if reason == "" {
		reason = "post not found"
	}
	return Post{PostID: postID, Error: reason}
}

// Failed reports whether p is an error record.
func (p Post) Failed() bool {
	return p.Error != ""
}

// Item returns the 1-based media item n.
func (p Post) Item(n int) (Media, bool) {
	if p.Failed() || n < 1 || n > len(p.Media) {
		return Media{}, false
	}
	return p.Media[n-1].clone(), true
}

// Images returns the image items in display order.
func (p Post) Images() []Media {
	out := make([]Media, 0, len(p.Media))
	for _, m := range p.Media {
		if m.Kind == KindImage {
			out = append(out, m.clone())
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p Post) Clone() Post {
	cp := p
	cp.Media = cloneMedia(p.Media)
	return cp
}

// MapURLs returns a copy of p with fn applied to every media URL.
func (p Post) MapURLs(fn func(string) string) Post {
	cp := p.Clone()
	for i := range cp.Media {
		cp.Media[i].URL = fn(cp.Media[i].URL)
	}
	return cp
}

// Truncate shortens caption to CaptionLimit runes followed by an ellipsis.
// Records keep the full caption; renderers call this for summaries.
func Truncate(caption string) string {
	if utf8.RuneCountInString(caption) <= CaptionLimit {
		return caption
	}
	runes := []rune(caption)
	return string(runes[:CaptionLimit]) + "…"
}

// Dimension converts a parsed size into the nullable form used by Media.
// Non-positive values are treated as absent.
func Dimension(v int64) *int {
	if v <= 0 {
		return nil
	}
	n := int(v)
	return &n
}

func (m Media) clone() Media {
	cp := m
	if m.Width != nil {
		w := *m.Width
		cp.Width = &w
	}
	if m.Height != nil {
		h := *m.Height
		cp.Height = &h
	}
	return cp
}

func cloneMedia(src []Media) []Media {
	if len(src) == 0 {
		return nil
	}
	out := make([]Media, len(src))
	for i, m := range src {
		out[i] = m.clone()
	}
	return out
}
