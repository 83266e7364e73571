// Package storage defines the blob store contract used for composed grid
// images. Implementations live in the local, memory and gcs subpackages.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// BlobStore persists immutable objects addressed by a flat path.
// Concurrent writers of the same path must leave a complete object behind.
type BlobStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context) ([]string, error)
}
