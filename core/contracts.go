package core

import (
	"context"
	"io/fs"
)

// Hasher computes a stable content digest for a file path. The default
// implementation (package contentid) streams the file through SHA-1 in
// bounded chunks; it is injected so tests can stub slow or failing I/O.
type Hasher interface {
	Hash(ctx context.Context, path FilePath) (Digest, error)
}

// RawDecoder produces a decoded preview blob for RAW inputs. Failure is
// advisory: the pipeline continues with the original file.
type RawDecoder interface {
	Decode(ctx context.Context, path FilePath) (previewPath string, err error)
}

// FaceDetector runs face detection against the best available input
// (decoded preview if present, else the original file). Mandatory: failure
// terminates the task.
type FaceDetector interface {
	Detect(ctx context.Context, imagePath string) ([]BBox, error)
}

// ThumbnailCropper crops one thumbnail per bounding box. Mandatory: a single
// crop failure fails the whole stage.
type ThumbnailCropper interface {
	Crop(ctx context.Context, imagePath string, box BBox, destPath string) error
}

// Clock provides a monotonic timestamp source, injected so tests can control
// CacheEntry ordering deterministically.
type Clock interface {
	Now() uint64
}

// Fs is the filesystem surface the core needs beyond what os/io already
// provide as free functions: open, rename, fsync, unlink, mkdir, and
// statvfs-equivalent disk-full detection are satisfied directly by the
// standard library in this implementation (os, io, and an ENOSPC check
// on the rename error) rather than through this interface; Fs exists so a caller
// embedding eventlens in a process with its own virtual filesystem
// (container overlay, FUSE mount) can substitute one.
type Fs interface {
	fs.StatFS
	Rename(oldpath, newpath string) error
	Remove(path string) error
	MkdirAll(path string, perm fs.FileMode) error
}
