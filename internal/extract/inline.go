package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/instafix/internal/upstream"
)

// InlineMarker prefixes the data blob some embed pages ship inline.
const InlineMarker = "window.__additionalDataLoaded("

// InlineJSON reads the blob passed to the inline data loader call.
type InlineJSON struct{}

// Name implements Strategy.
func (InlineJSON) Name() string { return "inline_json" }

// Extract implements Strategy.
func (InlineJSON) Extract(_ context.Context, postID string, artifact Artifact) Result {
	idx := bytes.Index(artifact.Body, []byte(InlineMarker))
	if idx < 0 {
		return fail(upstream.ErrNotApplicable)
	}
	rest := artifact.Body[idx+len(InlineMarker):]
	open := bytes.IndexByte(rest, '{')
	if open < 0 {
		return fail(fmt.Errorf("%w: loader call without object", upstream.ErrInvalidShape))
	}

	var blob json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(rest[open:])).Decode(&blob); err != nil {
		return fail(fmt.Errorf("%w: decode inline blob: %w", upstream.ErrInvalidShape, err))
	}

	root := gjson.ParseBytes(blob)
	data := firstPresent(root, "graphql", "gql_data", "data")
	if !data.Exists() {
		data = root
	}
	p, blocked, err := mapGQL(postID, data)
	if err != nil {
		return fail(err)
	}
	return found(p, blocked)
}
