// Package core provides the shared data model for the eventlens
// preprocessing and cache coordination pipeline: digests, pipeline stages,
// task states, artifacts, events, and the collaborator interfaces the core
// consumes. Interfaces that define internal wiring contracts live closer to
// their consumers; this package holds only what every layer needs.
package core

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Digest is a 40-character lowercase hexadecimal SHA-1 content digest. It is
// the identity of a file's content; FilePath is never used as a persistent
// key (see Artifact).
//
// github.com/opencontainers/go-digest is not used here: it hardcodes OCI's
// sha256/384/512 algorithm registry and has no sha1 support, and its wire
// format always carries an "alg:" prefix, while a bare hex string with no
// prefix is required here. Validated with crypto/sha1 + encoding/hex
// directly instead (see DESIGN.md).
type Digest string

// ErrInvalidDigest is returned by ParseDigest for malformed input.
var ErrInvalidDigest = errors.New("eventlens: invalid digest")

const digestHexLen = 40 // crypto/sha1.Size * 2

// ParseDigest validates that s is a well-formed 40-hex-character SHA-1 digest.
func ParseDigest(s string) (Digest, error) {
	if len(s) != digestHexLen {
		return "", fmt.Errorf("%w: %q: want %d hex characters, got %d", ErrInvalidDigest, s, digestHexLen, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidDigest, s, err)
	}
	for _, r := range s {
		if r >= 'A' && r <= 'F' {
			return "", fmt.Errorf("%w: %q: must be lowercase", ErrInvalidDigest, s)
		}
	}
	return Digest(s), nil
}

// String returns the digest's hexadecimal representation.
func (d Digest) String() string {
	return string(d)
}

// FilePath is an absolute path used only for I/O and external addressing.
// Paths are not stable keys; all persistent state keys on Digest.
type FilePath string

func (p FilePath) String() string {
	return string(p)
}
