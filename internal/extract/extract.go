// Package extract turns raw upstream artifacts into canonical post records.
//
// Each Strategy is tried in a fixed priority order by the resolver. Strategies
// never return errors directly; they report a tagged Result so the caller can
// decide whether to fall through, escalate, or keep the record as a last resort.
package extract

import (
	"context"
	"errors"

	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/upstream"
)

// Artifact is the fetched embed page shared by the page-based strategies.
type Artifact struct {
	URL  string
	Body []byte
}

// Result is the tagged outcome of one strategy.
type Result struct {
	Post post.Post
	// Blocked marks a record that parsed but whose primary media is withheld.
	Blocked bool
	Err     error
}

// Usable reports whether the result carries a success record.
func (r Result) Usable() bool {
	return r.Err == nil && !r.Post.Failed() && len(r.Post.Media) > 0
}

// Applicable reports whether the strategy's preconditions were met.
func (r Result) Applicable() bool {
	return !errors.Is(r.Err, upstream.ErrNotApplicable)
}

// Strategy extracts a post from upstream.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, postID string, artifact Artifact) Result
}

func fail(err error) Result {
	return Result{Err: err}
}

func found(p post.Post, blocked bool) Result {
	return Result{Post: p, Blocked: blocked}
}
