package eventlens

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventlens/eventlens/core"
	"github.com/eventlens/eventlens/internal/cachestore"
	"github.com/eventlens/eventlens/internal/devcollab"
	"github.com/eventlens/eventlens/internal/window"
)

func storeAdmitRequest(t *testing.T, digest core.Digest, artifact core.Artifact) cachestore.AdmitRequest {
	t.Helper()
	return cachestore.AdmitRequest{Digest: digest, Artifact: artifact}
}

// countingDetector wraps devcollab.FixedDetector to count invocations, for
// scenario S1's "exactly one detection call across both runs" assertion.
type countingDetector struct {
	boxes []core.BBox
	calls atomic.Int64
}

func (d *countingDetector) Detect(ctx context.Context, imagePath string) ([]core.BBox, error) {
	d.calls.Add(1)
	if _, err := os.Stat(imagePath); err != nil {
		return nil, err
	}
	return d.boxes, nil
}

// blockingDetector pauses mid-detection until proceed is closed, so tests
// can deterministically land a side effect (rename, priority change)
// while a worker is in-flight rather than racing a fast real pipeline.
type blockingDetector struct {
	boxes   []core.BBox
	started chan struct{}
	proceed chan struct{}
	once    sync.Once
}

func (d *blockingDetector) Detect(ctx context.Context, imagePath string) ([]core.BBox, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, err
	}
	d.once.Do(func() { close(d.started) })
	<-d.proceed
	return d.boxes, nil
}

// TestScenario_S1_CacheHit implements S1: a second run of the
// same path short-circuits on the cache probe with exactly one detection
// call total.
func TestScenario_S1_CacheHit(t *testing.T) {
	t.Parallel()

	detector := &countingDetector{boxes: []core.BBox{{X: 0, Y: 0, W: 1, H: 1}, {X: 2, Y: 2, W: 1, H: 1}}}
	c := newTestCoordinator(t, WithCollaborators(nil, detector, devcollab.NoopCropper{}, &devcollab.MonotonicClock{}, devcollab.OSFs{}))
	stop := c.Run()
	defer stop()

	dir := t.TempDir()
	path := writeFixture(t, dir, "p.jpg", []byte("ffaa-scenario-one"))

	c.Enqueue([]core.FilePath{path}, PositionTail, false)
	waitUntil(t, c.drained)

	c.mu.Lock()
	digest, ok := c.lastDigests[path]
	c.mu.Unlock()
	require.True(t, ok)

	entry, ok := c.store.Lookup(digest)
	require.True(t, ok)
	assert.Equal(t, 2, entry.Artifact.FaceCount)
	assert.EqualValues(t, 1, detector.calls.Load())

	// Re-submit: must hit the cache probe, not re-run detection. The pool
	// only dedups a path while it is tracked as queued/in-flight/terminal,
	// so force-clear terminal tracking to simulate "submit again" the way
	// a process restart or a user-initiated re-scan would.
	c.pool.ClearTerminal(path)
	c.Enqueue([]core.FilePath{path}, PositionTail, false)
	waitUntil(t, c.drained)

	assert.EqualValues(t, 1, detector.calls.Load(), "cache hit must not re-run face detection")
}

// TestScenario_S2_PauseResume implements S2 at the coordinator
// level: max_ready=4, min_queue_buffer=3, resume_threshold=2.
func TestScenario_S2_PauseResume(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t,
		WithMaxWorkers(4),
		WithWindowConfig(window.Config{MaxReadyItems: 4, MinQueueBuffer: 3, ResumeThreshold: 2}),
	)
	sub := c.Subscribe(256)
	stop := c.Run()
	defer stop()

	dir := t.TempDir()
	var paths []core.FilePath
	for i := 0; i < 10; i++ {
		paths = append(paths, writeFixture(t, dir, string(rune('a'+i))+".jpg", []byte("content-"+string(rune('a'+i)))))
	}
	c.Enqueue(paths, PositionTail, false)

	waitUntil(t, func() bool { return c.win.Paused() })

	var readyDigests []core.Digest
	deadline := 0
	for len(readyDigests) < 2 && deadline < 2000 {
		select {
		case ev := <-sub.Events:
			if ev.Kind == core.TaskCompleted {
				readyDigests = append(readyDigests, ev.Digest)
			}
		default:
		}
		deadline++
	}
	require.GreaterOrEqual(t, len(readyDigests), 2, "need at least 2 completed digests to test resume")

	c.MarkConsumed(readyDigests[0])
	assert.True(t, c.win.Paused())
	c.MarkConsumed(readyDigests[1])
	assert.False(t, c.win.Paused())

	waitUntil(t, c.drained)
}

// TestScenario_S3_PriorityProtection implements S3: budget
// fits exactly 2 entries; A is marked priority before the third admission
// pushes the store over budget, so B (oldest non-priority) is evicted and
// A survives.
func TestScenario_S3_PriorityProtection(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, WithMaxWorkers(1), WithBudget(2*(512)))
	stop := c.Run()
	defer stop()

	dir := t.TempDir()
	a := writeFixture(t, dir, "a.jpg", []byte("alpha-content"))
	b := writeFixture(t, dir, "b.jpg", []byte("bravo-content"))
	cc := writeFixture(t, dir, "c.jpg", []byte("charlie-content"))

	c.Enqueue([]core.FilePath{a}, PositionTail, false)
	waitUntil(t, c.drained)
	c.Enqueue([]core.FilePath{b}, PositionTail, false)
	waitUntil(t, c.drained)

	c.mu.Lock()
	digestA := c.lastDigests[a]
	c.mu.Unlock()
	c.SetPriority([]core.Digest{digestA})

	c.Enqueue([]core.FilePath{cc}, PositionTail, false)
	waitUntil(t, c.drained)

	c.mu.Lock()
	digestB, digestC := c.lastDigests[b], c.lastDigests[cc]
	c.mu.Unlock()

	_, aPresent := c.store.Lookup(digestA)
	_, bPresent := c.store.Lookup(digestB)
	_, cPresent := c.store.Lookup(digestC)

	assert.True(t, aPresent, "priority entry A must survive eviction")
	assert.False(t, bPresent, "oldest non-priority entry B must be evicted first")
	assert.True(t, cPresent, "the newly admitted entry C must be present")
}

// TestScenario_S4_MissingFileMidQueue implements S4: a missing
// path terminates with FileMissing while its neighbors complete normally.
func TestScenario_S4_MissingFileMidQueue(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, WithMaxWorkers(1))
	sub := c.Subscribe(256)
	stop := c.Run()
	defer stop()

	dir := t.TempDir()
	a := writeFixture(t, dir, "a.jpg", []byte("present-a"))
	missing := core.FilePath(filepath.Join(dir, "missing.jpg"))
	b := writeFixture(t, dir, "b.jpg", []byte("present-b"))

	c.Enqueue([]core.FilePath{a, missing, b}, PositionTail, false)
	waitUntil(t, c.drained)

	var sawMissing bool
	var completed []core.FilePath
drain:
	for {
		select {
		case ev := <-sub.Events:
			switch ev.Kind {
			case core.FileMissing:
				if ev.Path == missing {
					sawMissing = true
				}
			case core.TaskCompleted:
				completed = append(completed, ev.Path)
			}
		default:
			break drain
		}
	}

	assert.True(t, sawMissing)
	assert.Contains(t, completed, a)
	assert.Contains(t, completed, b)
}

// TestScenario_S5_RenameDuringFlight implements S5: a rename
// mid-detection migrates path tracking; the completed entry is reachable
// by digest regardless, and a subsequent enqueue under the new path hits
// the cache.
func TestScenario_S5_RenameDuringFlight(t *testing.T) {
	t.Parallel()

	detector := &blockingDetector{
		boxes:   []core.BBox{{X: 0, Y: 0, W: 1, H: 1}},
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	c := newTestCoordinator(t, WithMaxWorkers(1),
		WithCollaborators(nil, detector, devcollab.NoopCropper{}, &devcollab.MonotonicClock{}, devcollab.OSFs{}))
	stop := c.Run()
	defer stop()

	dir := t.TempDir()
	oldPath := writeFixture(t, dir, "old.jpg", []byte("rename-scenario"))

	c.Enqueue([]core.FilePath{oldPath}, PositionTail, false)
	<-detector.started // detection is genuinely in flight now

	// The in-flight run already hashed oldPath's content before Detect
	// blocked, so renaming the underlying file now is safe: it only
	// affects the *next* lookup of newPath, not the run already in flight.
	newPath := core.FilePath(filepath.Join(dir, "new.jpg"))
	require.NoError(t, os.Rename(string(oldPath), string(newPath)))
	c.HandleRename(oldPath, newPath)
	close(detector.proceed) // let the in-flight detection finish

	waitUntil(t, c.drained)

	c.mu.Lock()
	digest, ok := c.lastDigests[newPath]
	c.mu.Unlock()
	require.True(t, ok, "reconciliation map must carry the digest to the new path after rename")

	entry, ok := c.store.Lookup(digest)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Artifact.FaceCount)

	c.Enqueue([]core.FilePath{newPath}, PositionTail, false)
	waitUntil(t, c.drained)

	c.mu.Lock()
	_, stillOld := c.lastDigests[oldPath]
	c.mu.Unlock()
	assert.False(t, stillOld, "the old path must no longer be tracked after rename")
}

// TestScenario_S6_StorageFull implements S6: when every cached
// entry is priority-protected and the store is still over budget, the
// oldest priority entry is evicted as a last resort. Driven directly
// against the CacheStore (reached through the coordinator's own field,
// same package) because the "all priority" branch requires both digests
// to be priority-protected before the second admission's inline eviction
// tick runs — the full async pipeline cannot guarantee that ordering
// since a real digest is only known after hashing completes.
func TestScenario_S6_StorageFull(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, WithBudget(512))

	digestA := core.Digest("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	digestB := core.Digest("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	artifact := func(completedAt uint64) core.Artifact {
		return core.Artifact{
			CompletedAt: completedAt,
			StagesDone:  core.NewStageSet(core.Hashing, core.DetectingFaces, core.GeneratingThumbnails),
		}
	}

	_, err := c.store.Admit(storeAdmitRequest(t, digestA, artifact(1)))
	require.NoError(t, err)

	// Both digests must already be priority-protected before B's admission
	// runs its inline eviction tick, or the normal non-priority-first rule
	// (S3) would apply to B instead.
	c.SetPriority([]core.Digest{digestA, digestB})

	_, err = c.store.Admit(storeAdmitRequest(t, digestB, artifact(2)))
	require.NoError(t, err)

	_, aPresent := c.store.Lookup(digestA)
	_, bPresent := c.store.Lookup(digestB)
	assert.False(t, aPresent, "with every candidate priority-protected, the oldest priority entry is evicted")
	assert.True(t, bPresent)
}
