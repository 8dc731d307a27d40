// Package sha256 names content by its SHA-256 digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements leadgen.Hasher. Digests are hex encoded and, when a
// length is set, cut to that many characters.
type Hasher struct {
	length int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithLength truncates digests to n hex characters. Values outside (0, 64]
// keep the full digest.
func WithLength(n int) Option {
	return func(h *Hasher) {
		if n > 0 && n < sha256.Size*2 {
			h.length = n
		}
	}
}

// New returns a Hasher.
func New(opts ...Option) *Hasher {
	h := &Hasher{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 {
		digest = digest[:h.length]
	}
	return digest, nil
}
