package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventlens/eventlens/core"
	"github.com/eventlens/eventlens/internal/cachestore"
)

type fakeHasher struct {
	digests map[core.FilePath]core.Digest
	err     error
}

func (f fakeHasher) Hash(ctx context.Context, path core.FilePath) (core.Digest, error) {
	if f.err != nil {
		return "", f.err
	}
	if d, ok := f.digests[path]; ok {
		return d, nil
	}
	return core.Digest(fmt.Sprintf("%040x", len(path))), nil
}

type fakeDecoder struct {
	previewPath string
	err         error
}

func (f fakeDecoder) Decode(ctx context.Context, path core.FilePath) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.previewPath, nil
}

type fakeDetector struct {
	boxes []core.BBox
	err   error
}

func (f fakeDetector) Detect(ctx context.Context, imagePath string) ([]core.BBox, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.boxes, nil
}

type fakeCropper struct {
	err error
}

func (f fakeCropper) Crop(ctx context.Context, imagePath string, box core.BBox, destPath string) error {
	return f.err
}

type fakeClock struct{ t uint64 }

func (c *fakeClock) Now() uint64 {
	c.t++
	return c.t
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[core.Digest]core.CacheEntry
	admits  []cachestore.AdmitRequest
	admitFn func(req cachestore.AdmitRequest) (core.AdmitResult, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[core.Digest]core.CacheEntry{}}
}

func (s *fakeStore) Lookup(d core.Digest) (core.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[d]
	return e, ok
}

func (s *fakeStore) Admit(req cachestore.AdmitRequest) (core.AdmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admits = append(s.admits, req)
	if s.admitFn != nil {
		return s.admitFn(req)
	}
	s.entries[req.Digest] = core.CacheEntry{Digest: req.Digest, Artifact: req.Artifact}
	return core.Admitted, nil
}

func (s *fakeStore) TempPath(d core.Digest) string {
	return "/tmp/" + string(d)
}

func newTestWorker(store Store, hasher core.Hasher, decoder core.RawDecoder, detector core.FaceDetector, cropper core.ThumbnailCropper) *Worker {
	return New(hasher, decoder, detector, cropper, &fakeClock{}, nil, store)
}

func TestWorker_HappyPathNonRaw(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := newTestWorker(store, fakeHasher{}, nil, fakeDetector{boxes: []core.BBox{{X: 1, Y: 2, W: 3, H: 4}}}, fakeCropper{})

	ts := w.Run(context.Background(), "photo.jpg")
	require.Equal(t, core.OutcomeCompleted, ts.Outcome)
	assert.Equal(t, 1, ts.Artifact.FaceCount)
	assert.True(t, ts.Artifact.StagesDone.HasAll(core.Hashing, core.DetectingFaces, core.GeneratingThumbnails))
	assert.False(t, ts.Artifact.StagesDone.Has(core.DecodingRaw))
	require.Len(t, store.admits, 1)
	assert.Empty(t, store.admits[0].PreviewSrc)
}

func TestWorker_RawPathDecodesPreview(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := newTestWorker(store, fakeHasher{}, fakeDecoder{previewPath: "/tmp/preview.jpg"}, fakeDetector{boxes: []core.BBox{{X: 0, Y: 0, W: 1, H: 1}}}, fakeCropper{})

	ts := w.Run(context.Background(), "shoot.NEF")
	require.Equal(t, core.OutcomeCompleted, ts.Outcome)
	assert.True(t, ts.Artifact.StagesDone.Has(core.DecodingRaw))
	require.Len(t, store.admits, 1)
	assert.Equal(t, "/tmp/preview.jpg", store.admits[0].PreviewSrc)
}

func TestWorker_RawDecodeFailureIsAdvisoryNotFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := newTestWorker(store, fakeHasher{}, fakeDecoder{err: errors.New("corrupt raw")}, fakeDetector{boxes: nil}, fakeCropper{})

	ts := w.Run(context.Background(), "shoot.cr2")
	require.Equal(t, core.OutcomeCompleted, ts.Outcome)
	assert.False(t, ts.Artifact.StagesDone.Has(core.DecodingRaw))
}

func TestWorker_MissingFile(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := newTestWorker(store, fakeHasher{err: core.ErrFileMissing}, nil, fakeDetector{}, fakeCropper{})

	ts := w.Run(context.Background(), "gone.jpg")
	assert.Equal(t, core.OutcomeMissingFile, ts.Outcome)
	assert.Empty(t, store.admits)
}

func TestWorker_DetectionFailureIsMandatory(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := New(fakeHasher{}, nil, fakeDetector{err: errors.New("detector down")}, fakeCropper{}, &fakeClock{}, nil, store,
		WithDetectBackoff(&noRetryBackoff{}))

	ts := w.Run(context.Background(), "photo.jpg")
	assert.Equal(t, core.OutcomeErrored, ts.Outcome)
	assert.Equal(t, core.DetectingFaces, ts.Stage)
	assert.ErrorIs(t, ts.Err, core.ErrFaceDetectionFailed)
	assert.Empty(t, store.admits)
}

func TestWorker_ThumbnailFailureFailsWholeStage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := newTestWorker(store, fakeHasher{}, nil,
		fakeDetector{boxes: []core.BBox{{X: 0, Y: 0, W: 1, H: 1}, {X: 1, Y: 1, W: 1, H: 1}}},
		fakeCropper{err: errors.New("crop failed")})

	ts := w.Run(context.Background(), "photo.jpg")
	assert.Equal(t, core.OutcomeErrored, ts.Outcome)
	assert.Equal(t, core.GeneratingThumbnails, ts.Stage)
	assert.ErrorIs(t, ts.Err, core.ErrThumbnailFailed)
	assert.Empty(t, store.admits)
}

func TestWorker_CacheProbeShortCircuits(t *testing.T) {
	t.Parallel()

	digest := core.Digest(fmt.Sprintf("%040x", len(core.FilePath("photo.jpg"))))
	store := newFakeStore()
	store.entries[digest] = core.CacheEntry{
		Digest: digest,
		Artifact: core.Artifact{
			FaceCount:         2,
			ThumbnailsPresent: true,
			StagesDone:        core.NewStageSet(core.Hashing, core.DetectingFaces, core.GeneratingThumbnails),
		},
	}
	w := newTestWorker(store, fakeHasher{}, nil, fakeDetector{boxes: []core.BBox{{}}}, fakeCropper{})

	ts := w.Run(context.Background(), "photo.jpg")
	assert.Equal(t, core.OutcomeAlreadyProcessed, ts.Outcome)
	assert.Empty(t, store.admits, "cache hit must not re-run mandatory stages")
}

func TestWorker_CacheProbeIgnoredWhenRawStageMissing(t *testing.T) {
	t.Parallel()

	digest := core.Digest(fmt.Sprintf("%040x", len(core.FilePath("shoot.nef"))))
	store := newFakeStore()
	store.entries[digest] = core.CacheEntry{
		Digest: digest,
		Artifact: core.Artifact{
			StagesDone: core.NewStageSet(core.Hashing, core.DetectingFaces, core.GeneratingThumbnails),
		},
	}
	w := newTestWorker(store, fakeHasher{}, fakeDecoder{previewPath: "/tmp/p.jpg"}, fakeDetector{boxes: []core.BBox{{}}}, fakeCropper{})

	ts := w.Run(context.Background(), "shoot.nef")
	assert.Equal(t, core.OutcomeCompleted, ts.Outcome, "entry missing DecodingRaw must not satisfy a RAW path's cache probe")
}

// noRetryBackoff retries zero times, for deterministic failure tests.
type noRetryBackoff struct{}

func (b *noRetryBackoff) NextBackOff() time.Duration { return backoff.Stop }

func (b *noRetryBackoff) Reset() {}
