package core

import "errors"

// Sentinel errors for the pipeline's failure taxonomy. Stage-level errors
// never propagate above a PipelineWorker; they are materialized in the
// task's terminal state and published as TaskErrored (see package
// eventbus).
var (
	// ErrFileMissing indicates the submitted path does not exist on disk.
	ErrFileMissing = errors.New("eventlens: file missing")

	// ErrIO indicates a read failure other than absence (truncated read,
	// permission denial).
	ErrIO = errors.New("eventlens: io error")

	// ErrRawDecodeFailed indicates the RAW decode stage failed. Non-terminal:
	// the pipeline continues with the original file.
	ErrRawDecodeFailed = errors.New("eventlens: raw decode failed")

	// ErrFaceDetectionFailed indicates the mandatory detection stage failed.
	ErrFaceDetectionFailed = errors.New("eventlens: face detection failed")

	// ErrThumbnailFailed indicates the mandatory thumbnail stage failed.
	ErrThumbnailFailed = errors.New("eventlens: thumbnail generation failed")

	// ErrStorageFull indicates CacheStore admission failed because the
	// filesystem ran out of space (ENOSPC) while moving a blob into place.
	// No eviction tick runs before this error is returned.
	ErrStorageFull = errors.New("eventlens: storage full")

	// ErrStoreCorrupted indicates a cache entry was unreadable or
	// size-mismatched and has been evicted; callers see a cache miss.
	ErrStoreCorrupted = errors.New("eventlens: cache entry corrupted")

	// ErrCancelled indicates cooperative cancellation terminated a task.
	// Silent: no user-facing notification is published for this case.
	ErrCancelled = errors.New("eventlens: cancelled")

	// ErrInvariantViolation indicates a programmer error. The core refuses
	// to mask bugs; callers that see this should treat it as fatal.
	ErrInvariantViolation = errors.New("eventlens: invariant violation")

	// ErrRejected indicates CacheStore.Admit rejected the artifact (see the
	// Rejected result variant for the specific reason).
	ErrRejected = errors.New("eventlens: admission rejected")

	// ErrClosed indicates an operation was attempted against a component
	// that has already been shut down.
	ErrClosed = errors.New("eventlens: closed")

	// ErrNotFound indicates a lookup found no matching entry.
	ErrNotFound = errors.New("eventlens: not found")

	// ErrAlreadyLocked indicates another process already holds the
	// CacheStore's directory lock: two processes must not share a
	// CacheStore directory.
	ErrAlreadyLocked = errors.New("eventlens: cache directory already locked")
)
