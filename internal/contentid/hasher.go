// Package contentid implements ContentHasher: a streaming SHA-1 digest
// over a file's full byte stream, following the familiar streaming-hash
// idiom (hashing a body through a hash.Hash while writing it to a temp
// file) — here applied to a local file with no write side, since
// ContentHasher only identifies content, it does not store it.
package contentid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/eventlens/eventlens/core"
)

// chunkSize bounds per-Read memory use regardless of file size: hashing
// streams in bounded chunks rather than reading the whole file at once.
const chunkSize = 64 * 1024

// Hasher computes core.Digest values for file paths. It satisfies
// core.Hasher and holds no state; its zero value is ready to use.
type Hasher struct{}

var _ core.Hasher = Hasher{}

// New returns a ready-to-use Hasher.
func New() Hasher { return Hasher{} }

// Hash streams path's full contents through SHA-1 and returns the lowercase
// hex digest. Deterministic: equal bytes always produce an equal digest. On
// an absent path it returns an error satisfying errors.Is(err,
// core.ErrFileMissing); any other read failure satisfies errors.Is(err,
// core.ErrIO). Never returns a partial digest on error.
func (Hasher) Hash(ctx context.Context, path core.FilePath) (core.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	//nolint:gosec // G304: path is the caller-supplied file to hash, not attacker input we sandbox against
	f, err := os.Open(string(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", core.ErrFileMissing, path)
		}
		return "", fmt.Errorf("%w: open %s: %w", core.ErrIO, path, err)
	}
	defer f.Close()

	h := sha1.New()
	buf := make([]byte, chunkSize)
	// Wrapping f hides its WriterTo, so CopyBuffer reads through buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return "", fmt.Errorf("%w: read %s: %w", core.ErrIO, path, err)
	}

	digest, err := core.ParseDigest(hex.EncodeToString(h.Sum(nil)))
	if err != nil {
		// Unreachable: sha1.Sum always produces 40 lowercase hex characters.
		return "", fmt.Errorf("%w: %w", core.ErrInvariantViolation, err)
	}
	return digest, nil
}
