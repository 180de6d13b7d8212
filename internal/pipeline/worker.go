// Package pipeline implements PipelineWorker: the four-stage
// Hashing → DecodingRaw → DetectingFaces → GeneratingThumbnails pipeline
// for one file path. A small struct holding injected collaborators,
// wired through functional options in the same idiom as the rest of
// this module's components.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/eventlens/eventlens/core"
	"github.com/eventlens/eventlens/internal/cachestore"
)

// defaultRawExtensions is the configurable RAW set
// (default {nef, cr2, arw, raw}).
var defaultRawExtensions = map[string]struct{}{
	".nef": {}, ".cr2": {}, ".arw": {}, ".raw": {},
}

// Publisher is the event-bus surface the worker needs.
type Publisher interface {
	Publish(core.Event)
}

// Store is the CacheStore surface the worker needs.
type Store interface {
	Lookup(d core.Digest) (core.CacheEntry, bool)
	Admit(req cachestore.AdmitRequest) (core.AdmitResult, error)
	TempPath(d core.Digest) string
}

// Worker is the PipelineWorker implementation.
type Worker struct {
	hasher   core.Hasher
	decoder  core.RawDecoder
	detector core.FaceDetector
	cropper  core.ThumbnailCropper
	clock    core.Clock
	fs       core.Fs

	store         Store
	pub           Publisher
	logger        *slog.Logger
	rawExtensions map[string]struct{}

	// detectBackoff wraps FaceDetector.Detect with exponential-backoff
	// retries around transient collaborator errors, the same backend
	// reconnection shape used anywhere a collaborator call crosses a
	// process or model-serving boundary.
	detectBackoff backoff.BackOff
}

// WorkerOption configures a Worker at construction.
type WorkerOption func(*Worker)

// WithRawExtensions overrides the default RAW extension set. Extensions
// are matched case-insensitively and must include the leading dot, e.g.
// ".nef".
func WithRawExtensions(exts []string) WorkerOption {
	return func(w *Worker) {
		set := make(map[string]struct{}, len(exts))
		for _, e := range exts {
			set[strings.ToLower(e)] = struct{}{}
		}
		w.rawExtensions = set
	}
}

// WithPublisher attaches the event bus for TaskStageChanged, TaskCompleted,
// TaskErrored, FileMissing and AlreadyProcessed notifications.
func WithPublisher(pub Publisher) WorkerOption {
	return func(w *Worker) { w.pub = pub }
}

// WithLogger attaches structured logging; defaults to a discarding logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithDetectBackoff overrides the default exponential backoff policy used
// to retry FaceDetector.Detect on transient failure.
func WithDetectBackoff(b backoff.BackOff) WorkerOption {
	return func(w *Worker) { w.detectBackoff = b }
}

// New constructs a Worker. hasher, detector, cropper, clock, fs, and store
// are required collaborators; decoder may be nil if no RAW path is ever
// submitted.
func New(hasher core.Hasher, decoder core.RawDecoder, detector core.FaceDetector,
	cropper core.ThumbnailCropper, clock core.Clock, fs core.Fs, store Store, opts ...WorkerOption) *Worker {
	w := &Worker{
		hasher:        hasher,
		decoder:       decoder,
		detector:      detector,
		cropper:       cropper,
		clock:         clock,
		fs:            fs,
		store:         store,
		logger:        slog.New(slog.DiscardHandler),
		rawExtensions: defaultRawExtensions,
		detectBackoff: backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) publish(ev core.Event) {
	if w.pub != nil {
		w.pub.Publish(ev)
	}
}

func (w *Worker) isRaw(path core.FilePath) bool {
	ext := strings.ToLower(filepath.Ext(string(path)))
	_, ok := w.rawExtensions[ext]
	return ok
}

// Run drives path through all four stages and returns a terminal
// TaskState. Cancellation is polled via ctx.Err() between
// stages, never inside one.
func (w *Worker) Run(ctx context.Context, path core.FilePath) core.TaskState {
	digest, ts, done := w.hash(ctx, path)
	if done {
		return ts
	}

	if entry, ok := w.store.Lookup(digest); ok && w.stagesSatisfied(path, entry.Artifact.StagesDone) {
		w.publish(core.Event{Kind: core.AlreadyProcessed, Path: path, Digest: digest, FaceCount: entry.Artifact.FaceCount})
		return core.TaskState{Path: path, Outcome: core.OutcomeAlreadyProcessed, Digest: digest, Artifact: entry.Artifact}
	}

	if err := ctx.Err(); err != nil {
		return w.cancelled(path, digest, core.Hashing)
	}

	bestInput := string(path)
	previewTemp := ""
	stagesDone := core.NewStageSet(core.Hashing)

	if w.isRaw(path) {
		w.publish(core.Event{Kind: core.TaskStageChanged, Path: path, Digest: digest, Stage: core.DecodingRaw})
		if preview, err := w.decodeRaw(ctx, path); err != nil {
			w.logger.Warn("raw decode failed, continuing with original file", "path", path, "error", err)
		} else {
			previewTemp = preview
			bestInput = preview
			stagesDone = stagesDone.Add(core.DecodingRaw)
		}
	}

	if err := ctx.Err(); err != nil {
		return w.cancelled(path, digest, core.DecodingRaw)
	}

	w.publish(core.Event{Kind: core.TaskStageChanged, Path: path, Digest: digest, Stage: core.DetectingFaces})
	boxes, err := w.detectFaces(ctx, bestInput)
	if err != nil {
		w.publish(core.Event{Kind: core.TaskErrored, Path: path, Digest: digest, Stage: core.DetectingFaces, Err: err})
		return core.TaskState{Path: path, Outcome: core.OutcomeErrored, Digest: digest, Stage: core.DetectingFaces, Err: fmt.Errorf("%w: %w", core.ErrFaceDetectionFailed, err)}
	}
	stagesDone = stagesDone.Add(core.DetectingFaces)

	if err := ctx.Err(); err != nil {
		return w.cancelled(path, digest, core.DetectingFaces)
	}

	w.publish(core.Event{Kind: core.TaskStageChanged, Path: path, Digest: digest, Stage: core.GeneratingThumbnails})
	thumbPaths, err := w.generateThumbnails(ctx, digest, bestInput, boxes)
	if err != nil {
		w.publish(core.Event{Kind: core.TaskErrored, Path: path, Digest: digest, Stage: core.GeneratingThumbnails, Err: err})
		return core.TaskState{Path: path, Outcome: core.OutcomeErrored, Digest: digest, Stage: core.GeneratingThumbnails, Err: fmt.Errorf("%w: %w", core.ErrThumbnailFailed, err)}
	}
	stagesDone = stagesDone.Add(core.GeneratingThumbnails)

	artifact := core.Artifact{
		FaceCount:         len(boxes),
		FaceBBoxes:        boxes,
		ThumbnailsPresent: true,
		CompletedAt:       w.clock.Now(),
		StagesDone:        stagesDone,
	}

	result, err := w.store.Admit(cachestore.AdmitRequest{
		Digest:     digest,
		Artifact:   artifact,
		PreviewSrc: previewTemp,
		ThumbSrcs:  thumbPaths,
	})
	if err != nil {
		// Admission failure (storage full) is a GeneratingThumbnails-stage
		// error; the decoded preview is left in place for a retry after
		// the next eviction tick.
		w.publish(core.Event{Kind: core.TaskErrored, Path: path, Digest: digest, Stage: core.GeneratingThumbnails, Err: err})
		return core.TaskState{Path: path, Outcome: core.OutcomeErrored, Digest: digest, Stage: core.GeneratingThumbnails, Err: err}
	}
	_ = result

	w.publish(core.Event{Kind: core.TaskCompleted, Path: path, Digest: digest, FaceCount: artifact.FaceCount})
	return core.TaskState{Path: path, Outcome: core.OutcomeCompleted, Digest: digest, Artifact: artifact}
}

func (w *Worker) hash(ctx context.Context, path core.FilePath) (core.Digest, core.TaskState, bool) {
	w.publish(core.Event{Kind: core.TaskStageChanged, Path: path, Stage: core.Hashing})
	digest, err := w.hasher.Hash(ctx, path)
	if err != nil {
		if isMissingFile(err) {
			w.publish(core.Event{Kind: core.FileMissing, Path: path})
			return "", core.TaskState{Path: path, Outcome: core.OutcomeMissingFile}, true
		}
		w.publish(core.Event{Kind: core.TaskErrored, Path: path, Stage: core.Hashing, Err: err})
		return "", core.TaskState{Path: path, Outcome: core.OutcomeErrored, Stage: core.Hashing, Err: err}, true
	}
	return digest, core.TaskState{}, false
}

func isMissingFile(err error) bool {
	return errors.Is(err, core.ErrFileMissing)
}

// stagesSatisfied reports whether entry already covers every stage this
// file path would need: RAW paths need DecodingRaw too, non-RAW paths
// do not.
func (w *Worker) stagesSatisfied(path core.FilePath, done core.StageSet) bool {
	required := []core.PipelineStage{core.Hashing, core.DetectingFaces, core.GeneratingThumbnails}
	if w.isRaw(path) {
		required = append(required, core.DecodingRaw)
	}
	return done.HasAll(required...)
}

func (w *Worker) cancelled(path core.FilePath, digest core.Digest, stage core.PipelineStage) core.TaskState {
	return core.TaskState{Path: path, Outcome: core.OutcomeErrored, Digest: digest, Stage: stage, Err: core.ErrCancelled}
}

func (w *Worker) decodeRaw(ctx context.Context, path core.FilePath) (string, error) {
	preview, err := w.decoder.Decode(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrRawDecodeFailed, err)
	}
	return preview, nil
}

func (w *Worker) detectFaces(ctx context.Context, imagePath string) ([]core.BBox, error) {
	var boxes []core.BBox
	op := func() error {
		var err error
		boxes, err = w.detector.Detect(ctx, imagePath)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(w.detectBackoff, ctx)); err != nil {
		return nil, err
	}
	return boxes, nil
}

func (w *Worker) generateThumbnails(ctx context.Context, digest core.Digest, imagePath string, boxes []core.BBox) ([]string, error) {
	dests := make([]string, len(boxes))
	for i, box := range boxes {
		dest := w.store.TempPath(core.Digest(fmt.Sprintf("%s-thumb%d", digest, i)))
		if err := w.cropper.Crop(ctx, imagePath, box, dest); err != nil {
			return nil, fmt.Errorf("crop thumbnail %d: %w", i, err)
		}
		dests[i] = dest
	}
	return dests, nil
}
