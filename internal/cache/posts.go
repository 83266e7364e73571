package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/JakeFAU/instafix/internal/post"
)

const postKeyPrefix = "post:"

var (
	// Core deterministic encoding: the same record always yields the same bytes.
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: cbor decoder initialization failed: " + err.Error())
	}
}

// PostCache stores post records in a Store.
type PostCache struct {
	store Store
}

// NewPostCache wraps store.
func NewPostCache(store Store) *PostCache {
	return &PostCache{store: store}
}

// Store returns the underlying backend.
func (c *PostCache) Store() Store {
	return c.store
}

// Get returns the cached record for postID. A decode failure is reported as
// an error and the entry is treated as a miss by callers.
func (c *PostCache) Get(ctx context.Context, postID string) (post.Post, bool, error) {
	raw, ok, err := c.store.Get(ctx, postKeyPrefix+postID)
	if err != nil || !ok {
		return post.Post{}, false, err
	}
	var p post.Post
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return post.Post{}, false, fmt.Errorf("decode cached post %s: %w", postID, err)
	}
	return p, true, nil
}

// Set stores p under its own post id.
func (c *PostCache) Set(ctx context.Context, p post.Post, ttl time.Duration) error {
	raw, err := Encode(p)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, postKeyPrefix+p.PostID, raw, ttl); err != nil {
		return fmt.Errorf("store post %s: %w", p.PostID, err)
	}
	return nil
}

// Delete drops the cached record for postID.
func (c *PostCache) Delete(ctx context.Context, postID string) error {
	return c.store.Delete(ctx, postKeyPrefix+postID)
}

// Encode serializes a record with the cache codec.
func Encode(p post.Post) ([]byte, error) {
	raw, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode post %s: %w", p.PostID, err)
	}
	return raw, nil
}
