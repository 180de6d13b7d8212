// Package eventlens is the top-level PipelineCoordinator façade: a
// content-aware preprocessing and cache coordination core for a photo
// review pipeline. A struct holding injected collaborators plus owned
// component instances, constructed through functional options that wire
// default implementations when the caller doesn't supply its own.
package eventlens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eventlens/eventlens/core"
	"github.com/eventlens/eventlens/internal/cachestore"
	"github.com/eventlens/eventlens/internal/contentid"
	"github.com/eventlens/eventlens/internal/eventbus"
	"github.com/eventlens/eventlens/internal/pipeline"
	"github.com/eventlens/eventlens/internal/pool"
	"github.com/eventlens/eventlens/internal/priority"
	"github.com/eventlens/eventlens/internal/window"
)

const defaultMaxWorkers = 4

// Coordinator is the PipelineCoordinator implementation.
type Coordinator struct {
	logger *slog.Logger

	store *cachestore.Store
	bus   *eventbus.Bus
	prio  *priority.Index
	win   *window.Window
	pool  *pool.Pool
	wrk   *pipeline.Worker

	mu          sync.Mutex
	lastDigests map[core.FilePath]core.Digest
	renames     map[core.FilePath]core.FilePath
}

// CoordinatorOption configures a Coordinator at construction.
type CoordinatorOption func(*coordinatorConfig) error

type coordinatorConfig struct {
	cacheRoot  string
	budget     int64
	maxWorkers int
	winCfg     window.Config
	logger     *slog.Logger

	hasher   core.Hasher
	decoder  core.RawDecoder
	detector core.FaceDetector
	cropper  core.ThumbnailCropper
	clock    core.Clock
	fs       core.Fs

	rawExtensions []string
}

// WithCacheDir sets the CacheStore's root directory. Required.
func WithCacheDir(dir string) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.cacheRoot = dir
		return nil
	}
}

// WithBudget overrides the CacheStore's soft size budget.
func WithBudget(bytes int64) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.budget = bytes
		return nil
	}
}

// WithMaxWorkers overrides the WorkerPool's concurrency cap.
func WithMaxWorkers(n int) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: max_workers must be >= 1, got %d", core.ErrInvariantViolation, n)
		}
		c.maxWorkers = n
		return nil
	}
}

// WithWindowConfig overrides the RollingWindow's watermarks.
func WithWindowConfig(cfg window.Config) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.winCfg = cfg
		return nil
	}
}

// WithLogger attaches structured logging; defaults to a discarding logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.logger = logger
		return nil
	}
}

// WithHasher overrides the default content hasher (contentid.New()).
func WithHasher(hasher core.Hasher) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.hasher = hasher
		return nil
	}
}

// WithCollaborators injects the RAW decode, face detection, thumbnail
// crop, clock, and filesystem collaborators the pipeline delegates to.
// decoder may be nil if no RAW input will ever be submitted; detector,
// cropper, and clock are required.
func WithCollaborators(decoder core.RawDecoder, detector core.FaceDetector,
	cropper core.ThumbnailCropper, clock core.Clock, fs core.Fs) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.decoder, c.detector, c.cropper, c.clock, c.fs = decoder, detector, cropper, clock, fs
		return nil
	}
}

// WithRawExtensions overrides the set of file extensions the
// PipelineWorker treats as RAW (routed through the RawDecoder after
// hashing and before detection) rather than already-decoded images.
func WithRawExtensions(exts []string) CoordinatorOption {
	return func(c *coordinatorConfig) error {
		c.rawExtensions = exts
		return nil
	}
}

// NewCoordinator applies every option, then wires the Coordinator and each
// collaborating component beneath it (store, bus, priority index, window,
// pool, worker) from the resulting config.
func NewCoordinator(ctx context.Context, opts ...CoordinatorOption) (*Coordinator, error) {
	cfg := &coordinatorConfig{
		budget:     0, // 0 means "use cachestore's own default"
		maxWorkers: defaultMaxWorkers,
		winCfg:     window.DefaultConfig(),
		logger:     slog.New(slog.DiscardHandler),
		hasher:     contentid.New(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.cacheRoot == "" {
		return nil, fmt.Errorf("%w: cache directory is required (WithCacheDir)", core.ErrInvariantViolation)
	}
	if cfg.detector == nil || cfg.cropper == nil || cfg.clock == nil {
		return nil, fmt.Errorf("%w: detector, cropper, and clock collaborators are required", core.ErrInvariantViolation)
	}

	prio := priority.New()
	bus := eventbus.New()

	storeOpts := []cachestore.Option{
		cachestore.WithPrioritySource(prio),
		cachestore.WithLogger(cfg.logger),
		cachestore.WithPublisher(eventPublisherAdapter{bus}),
	}
	if cfg.budget > 0 {
		storeOpts = append(storeOpts, cachestore.WithBudget(cfg.budget))
	}
	store, err := cachestore.New(cfg.cacheRoot, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("create cache store: %w", err)
	}

	win, err := window.New(cfg.winCfg, eventPublisherAdapter{bus})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create rolling window: %w", err)
	}

	wrkOpts := []pipeline.WorkerOption{
		pipeline.WithPublisher(eventPublisherAdapter{bus}),
		pipeline.WithLogger(cfg.logger),
	}
	if len(cfg.rawExtensions) > 0 {
		wrkOpts = append(wrkOpts, pipeline.WithRawExtensions(cfg.rawExtensions))
	}
	wrk := pipeline.New(cfg.hasher, cfg.decoder, cfg.detector, cfg.cropper, cfg.clock, cfg.fs, store, wrkOpts...)

	p := pool.New(ctx, cfg.maxWorkers, runnerAdapter{wrk}, pool.WithReadyGate(win), pool.WithPublisher(eventPublisherAdapter{bus}))

	c := &Coordinator{
		logger:      cfg.logger,
		store:       store,
		bus:         bus,
		prio:        prio,
		win:         win,
		pool:        p,
		wrk:         wrk,
		lastDigests: make(map[core.FilePath]core.Digest),
		renames:     make(map[core.FilePath]core.FilePath),
	}
	return c, nil
}

// eventPublisherAdapter lets *eventbus.Bus satisfy the small Publisher
// interfaces package window and package pool each define independently:
// siblings depend on narrow injected interfaces, never on each other's
// concrete types.
type eventPublisherAdapter struct{ bus *eventbus.Bus }

func (a eventPublisherAdapter) Publish(ev core.Event) { a.bus.Publish(ev) }

// runnerAdapter lets *pipeline.Worker satisfy pool.Runner without pool
// importing package pipeline.
type runnerAdapter struct{ w *pipeline.Worker }

func (a runnerAdapter) Run(ctx context.Context, path core.FilePath) core.TaskState {
	return a.w.Run(ctx, path)
}

// Subscribe registers a buffered event subscriber. See eventbus.Bus for
// overflow semantics.
func (c *Coordinator) Subscribe(buffer int) *eventbus.Subscription {
	return c.bus.SubscribeBuffered(buffer)
}

// Enqueue submits paths to the pool: position selects
// FIFO tail, front-jump, or a caller-presorted order. force bypasses the
// RollingWindow's ready-count gate for PositionHead only; tail and sorted
// submissions ignore it and always wait for the gate.
func (c *Coordinator) Enqueue(paths []core.FilePath, position EnqueuePosition, force bool) {
	ordered := paths
	if position == PositionSorted {
		ordered = sortedPaths(paths)
	}
	if position == PositionHead {
		// Prepend one at a time from the back so the final queue head
		// order matches the caller's input order.
		for i := len(ordered) - 1; i >= 0; i-- {
			c.pool.SubmitPriority(ordered[i], force)
		}
		return
	}
	for _, p := range ordered {
		c.pool.Submit(p)
	}
}

// EnqueuePosition selects where Enqueue places new paths.
type EnqueuePosition int

const (
	// PositionTail appends in FIFO order (default).
	PositionTail EnqueuePosition = iota
	// PositionHead jumps the queue.
	PositionHead
	// PositionSorted enqueues in caller-lexicographic order, still at the
	// tail.
	PositionSorted
)

func sortedPaths(paths []core.FilePath) []core.FilePath {
	out := make([]core.FilePath, len(paths))
	copy(out, paths)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Remove unsubmits path from the pool.
func (c *Coordinator) Remove(path core.FilePath) {
	c.pool.Remove(path)
}

// MarkConsumed forwards to the RollingWindow and, on resume, forwards any
// purged digests to CacheStore.DeleteMany as a hint.
// Window never calls CacheStore directly; the coordinator is the only
// component permitted to bridge siblings.
func (c *Coordinator) MarkConsumed(digest core.Digest) {
	resumed, hints := c.win.MarkConsumed(digest)
	if resumed && len(hints) > 0 {
		c.store.DeleteMany(hints, true)
	}
	if resumed {
		c.pool.Resume()
	}
}

// SetPriority forwards to the PriorityIndex.
func (c *Coordinator) SetPriority(digests []core.Digest) {
	c.prio.Set(digests)
}

// ForceReprocess invalidates any cached entry for path's last-known
// digest and resubmits with force=true.
func (c *Coordinator) ForceReprocess(path core.FilePath) {
	c.mu.Lock()
	digest, known := c.lastDigests[path]
	c.mu.Unlock()
	if known {
		c.store.DeleteMany([]core.Digest{digest}, false)
	}
	c.pool.ClearTerminal(path)
	c.pool.SubmitPriority(path, true)
}

// HandleRename migrates in-flight/terminal tracking from oldPath to
// newPath; cache entries (keyed by digest) are untouched.
// If a run for oldPath is still in flight and hasn't reported its digest
// yet, the rename is recorded so recordDigest can redirect it to newPath
// once the run completes, rather than silently dropping the mapping.
func (c *Coordinator) HandleRename(oldPath, newPath core.FilePath) {
	c.mu.Lock()
	if d, ok := c.lastDigests[oldPath]; ok {
		delete(c.lastDigests, oldPath)
		c.lastDigests[newPath] = d
	} else {
		c.renames[oldPath] = newPath
	}
	c.mu.Unlock()
	c.pool.Remove(oldPath)
	c.pool.ClearTerminal(oldPath)
}

// HandleDelete removes path from the queue/terminal tracking and
// requests eviction of its last-known digest unless it is priority-protected.
func (c *Coordinator) HandleDelete(path core.FilePath) {
	c.mu.Lock()
	digest, known := c.lastDigests[path]
	delete(c.lastDigests, path)
	c.mu.Unlock()

	c.pool.Remove(path)
	c.pool.ClearTerminal(path)
	if known {
		c.store.DeleteMany([]core.Digest{digest}, true)
	}
}

// recordDigest is called once a path's PipelineWorker run has produced a
// digest, maintaining the reconciliation map. Hooked via
// event subscription rather than a direct pipeline callback, keeping
// PipelineWorker ignorant of the coordinator that owns it.
func (c *Coordinator) recordDigest(path core.FilePath, digest core.Digest) {
	c.mu.Lock()
	if renamed, ok := c.renames[path]; ok {
		delete(c.renames, path)
		path = renamed
	}
	c.lastDigests[path] = digest
	c.mu.Unlock()
}

// CacheEntries returns every cached entry, sorted by digest. Backs
// `eventlens cache stats --long`.
func (c *Coordinator) CacheEntries() []core.CacheEntry {
	return c.store.Entries()
}

// ClearCache removes every cached entry, including priority-protected
// ones, and returns the number removed.
func (c *Coordinator) ClearCache() int {
	entries := c.store.Entries()
	digests := make([]core.Digest, len(entries))
	for i, e := range entries {
		digests[i] = e.Digest
	}
	return c.store.DeleteMany(digests, false)
}

// PruneCache runs one eviction tick against the configured budget.
// Backs `eventlens cache prune`.
func (c *Coordinator) PruneCache() core.EvictionResult {
	result, _ := c.store.TickEviction()
	return result
}

// Status returns a point-in-time {pool, window, cache} snapshot.
func (c *Coordinator) Status() StatusSnapshot {
	return StatusSnapshot{
		Pool:   c.pool.Stats(),
		Cache:  c.store.Status(),
		Ready:  c.win.ReadyCount(),
		Max:    c.win.MaxReadyItems(),
		Paused: c.win.Paused(),
	}
}

// StatusSnapshot is the payload returned by Coordinator.Status.
type StatusSnapshot struct {
	Pool   core.PoolStats
	Cache  core.Status
	Ready  int
	Max    int
	Paused bool
}

// Close releases the CacheStore's directory lock and stops the pool's
// dispatch loop. In-flight runs are left to the caller's ctx
// cancellation (the ctx passed to NewCoordinator).
func (c *Coordinator) Close() error {
	c.pool.Close()
	return c.store.Close()
}

// Run starts a background goroutine that feeds TaskCompleted digests into
// the reconciliation map and the RollingWindow's ready tracking, and
// AlreadyProcessed digests into the reconciliation map only. It returns an unsubscribe function; callers should invoke it
// during shutdown.
func (c *Coordinator) Run() func() {
	sub := c.bus.SubscribeBuffered(64)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-sub.Events:
				switch ev.Kind {
				case core.TaskCompleted:
					c.recordDigest(ev.Path, ev.Digest)
					c.win.MarkReady(ev.Digest, c.pool.Stats().Queued)
				case core.AlreadyProcessed:
					c.recordDigest(ev.Path, ev.Digest)
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		sub.Close()
		close(stop)
		<-done
	}
}
