// Package devcollab provides in-process stub implementations of the core
// collaborator interfaces (core.RawDecoder, core.FaceDetector,
// core.ThumbnailCropper, core.Clock, core.Fs) for local demoing via
// the `eventlens` CLI commands and for integration tests. It is never imported
// by the core packages themselves: the real face-detection model, RAW
// decoder, and thumbnail cropper are explicitly out of scope here.
package devcollab

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/eventlens/eventlens/core"
)

// FakeDecoder treats every RAW input as if it decoded successfully,
// "producing" a preview that is just a copy of the original bytes. Useful
// for exercising the DecodingRaw path without a real RAW codec.
type FakeDecoder struct {
	// TempDir is where decoded preview files are written. Required.
	TempDir string
}

// Decode implements core.RawDecoder.
func (d FakeDecoder) Decode(ctx context.Context, path core.FilePath) (string, error) {
	src, err := os.Open(string(path))
	if err != nil {
		return "", fmt.Errorf("open source for fake decode: %w", err)
	}
	defer src.Close()

	dest, err := os.CreateTemp(d.TempDir, "preview-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create fake preview: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return "", fmt.Errorf("copy fake preview: %w", err)
	}
	if err := dest.Sync(); err != nil {
		return "", fmt.Errorf("fsync fake preview: %w", err)
	}
	return dest.Name(), nil
}

// FixedDetector returns the same bounding boxes for every image, for
// deterministic demoing.
type FixedDetector struct {
	Boxes []core.BBox
}

// Detect implements core.FaceDetector.
func (d FixedDetector) Detect(ctx context.Context, imagePath string) ([]core.BBox, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("stat image for fake detection: %w", err)
	}
	return d.Boxes, nil
}

// NoopCropper writes an empty placeholder file at destPath for each
// bounding box instead of actually cropping pixels.
type NoopCropper struct{}

// Crop implements core.ThumbnailCropper.
func (NoopCropper) Crop(ctx context.Context, imagePath string, box core.BBox, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create fake thumbnail: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync fake thumbnail: %w", err)
	}
	return f.Close()
}

// MonotonicClock hands out a strictly increasing counter instead of a
// wall-clock reading, so tests get deterministic CacheEntry ordering.
type MonotonicClock struct {
	n atomic.Uint64
}

// Now implements core.Clock.
func (c *MonotonicClock) Now() uint64 {
	return c.n.Add(1)
}

// OSFs implements core.Fs directly on top of the standard library, for
// the common case of a real local filesystem.
type OSFs struct{}

// Open implements fs.StatFS.
func (OSFs) Open(name string) (fs.File, error) { return os.Open(name) }

// Stat implements fs.StatFS.
func (OSFs) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// Rename implements core.Fs.
func (OSFs) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

// Remove implements core.Fs.
func (OSFs) Remove(path string) error { return os.Remove(path) }

// MkdirAll implements core.Fs.
func (OSFs) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

var (
	_ core.RawDecoder       = FakeDecoder{}
	_ core.FaceDetector     = FixedDetector{}
	_ core.ThumbnailCropper = NoopCropper{}
	_ core.Clock            = (*MonotonicClock)(nil)
	_ core.Fs               = OSFs{}
)
