// Package blake3 provides content digests for immutable blobs.
package blake3

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hasher produces hex-encoded BLAKE3-256 digests.
type Hasher struct{}

// New returns a BLAKE3 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
