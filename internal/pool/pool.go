// Package pool implements WorkerPool: a FIFO queue (with a priority
// front-jump) dispatching at most max_workers concurrent PipelineWorker
// runs, never blocking admission of a different path on one already
// in flight. A single queue mutex plus a golang.org/x/sync/semaphore.Weighted
// gate and an errgroup.Group collecting worker goroutines.
package pool

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/eventlens/eventlens/core"
)

// Runner executes one PipelineWorker run to completion. Satisfied by
// *pipeline.Worker.Run.
type Runner interface {
	Run(ctx context.Context, path core.FilePath) core.TaskState
}

// ReadyGate reports the RollingWindow's current occupancy so the pool can
// honor the "ready_count < max_ready_items" dispatch condition without
// importing package window directly: siblings call back only via the
// event bus or small injected interfaces, never direct upcalls.
type ReadyGate interface {
	ReadyCount() int
	MaxReadyItems() int
}

// Publisher is the event-bus surface the pool needs.
type Publisher interface {
	Publish(core.Event)
}

type unboundedGate struct{}

func (unboundedGate) ReadyCount() int    { return 0 }
func (unboundedGate) MaxReadyItems() int { return 1<<31 - 1 }

type queueItem struct {
	path  core.FilePath
	force bool
}

// Pool is the WorkerPool implementation.
type Pool struct {
	maxWorkers int
	runner     Runner
	gate       ReadyGate
	pub        Publisher
	logger     *slog.Logger

	sem *semaphore.Weighted
	eg  *errgroup.Group
	ctx context.Context

	mu          sync.Mutex
	queue       []queueItem
	inFlightSet map[core.FilePath]struct{}
	terminalSet map[core.FilePath]struct{}
	paused      bool
	closed      bool

	dispatchCh chan struct{}
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithReadyGate injects the RollingWindow occupancy check.
func WithReadyGate(g ReadyGate) Option {
	return func(p *Pool) { p.gate = g }
}

// WithPublisher attaches the event bus for PoolStatsChanged notifications.
func WithPublisher(pub Publisher) Option {
	return func(p *Pool) { p.pub = pub }
}

// WithLogger attaches structured logging; defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New creates a Pool bounded to maxWorkers concurrent runs. ctx governs the
// pool's dispatch loop lifetime; cancelling it stops dispatching new work
// (in-flight runs still receive ctx and observe cancellation between
// stages).
func New(ctx context.Context, maxWorkers int, runner Runner, opts ...Option) *Pool {
	eg, egCtx := errgroup.WithContext(ctx)
	p := &Pool{
		maxWorkers:  maxWorkers,
		runner:      runner,
		gate:        unboundedGate{},
		logger:      slog.New(slog.DiscardHandler),
		sem:         semaphore.NewWeighted(int64(maxWorkers)),
		eg:          eg,
		ctx:         egCtx,
		inFlightSet: make(map[core.FilePath]struct{}),
		terminalSet: make(map[core.FilePath]struct{}),
		dispatchCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.dispatchLoop()
	return p
}

// signalDispatch coalesces wake-ups: a full channel means a dispatch pass
// is already pending, so the send is dropped rather than blocking.
func (p *Pool) signalDispatch() {
	select {
	case p.dispatchCh <- struct{}{}:
	default:
	}
}

// Submit appends path to the queue tail if it is not already queued,
// in-flight, or recently terminal.
func (p *Pool) Submit(path core.FilePath) {
	p.mu.Lock()
	if p.known(path) {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, queueItem{path: path})
	p.mu.Unlock()

	p.publishStats()
	p.signalDispatch()
}

// SubmitPriority prepends path to the queue head, jumping ahead of FIFO
// order. force bypasses both the RollingWindow pause and the
// ready_count >= max_ready_items gate, for user-initiated navigation
// that must dispatch immediately regardless of backpressure.
func (p *Pool) SubmitPriority(path core.FilePath, force bool) {
	p.mu.Lock()
	if p.known(path) {
		p.mu.Unlock()
		return
	}
	p.queue = append([]queueItem{{path: path, force: force}}, p.queue...)
	p.mu.Unlock()

	p.publishStats()
	p.signalDispatch()
}

// known reports whether path is already tracked as queued, in-flight, or
// terminal. Caller must hold p.mu.
func (p *Pool) known(path core.FilePath) bool {
	if _, ok := p.inFlightSet[path]; ok {
		return true
	}
	if _, ok := p.terminalSet[path]; ok {
		return true
	}
	for _, item := range p.queue {
		if item.path == path {
			return true
		}
	}
	return false
}

// Remove drops path from the queue. No effect if already in-flight — the
// pool cannot preempt running work.
func (p *Pool) Remove(path core.FilePath) {
	p.mu.Lock()
	for i, item := range p.queue {
		if item.path == path {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.publishStats()
}

// ClearQueue drops all pending work; in-flight runs continue to completion.
func (p *Pool) ClearQueue() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
	p.publishStats()
}

// ClearTerminal forgets path's recently-terminal status, allowing
// resubmission. Called by the coordinator on force_reprocess or external
// cache eviction of the path's digest.
func (p *Pool) ClearTerminal(path core.FilePath) {
	p.mu.Lock()
	delete(p.terminalSet, path)
	p.mu.Unlock()
}

// Pause stops new dispatch until Resume is called. Driven by the
// coordinator in response to a RollingWindow WindowPaused event — the pool
// holds no reference to the window itself.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables dispatch and wakes the dispatch loop.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.signalDispatch()
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() core.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.PoolStats{
		Queued:     len(p.queue),
		InFlight:   len(p.inFlightSet),
		MaxWorkers: p.maxWorkers,
		Paused:     p.paused,
	}
}

// Close stops the dispatch loop. Pending queue items stay queued and are
// never dispatched; in-flight
// runs are left to the caller's ctx cancellation.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signalDispatch()
}

// Wait blocks until every in-flight worker goroutine has returned.
func (p *Pool) Wait() error {
	return p.eg.Wait()
}

func (p *Pool) publishStats() {
	if p.pub == nil {
		return
	}
	p.pub.Publish(core.Event{Kind: core.PoolStatsChanged, Stats: p.Stats()})
}

// dispatchLoop is the single goroutine that turns queued items into running
// workers. It never holds p.mu across a worker spawn.
func (p *Pool) dispatchLoop() {
	for range p.dispatchCh {
		for p.dispatchOne() {
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
	}
}

// dispatchOne attempts to dequeue and spawn one worker. Returns true if it
// did, so the caller can keep draining the queue in one wake-up.
func (p *Pool) dispatchOne() bool {
	p.mu.Lock()
	if p.closed || len(p.queue) == 0 || p.ctx.Err() != nil {
		p.mu.Unlock()
		return false
	}
	item := p.queue[0]
	if p.paused && !item.force {
		p.mu.Unlock()
		return false
	}
	if !item.force && p.gate.ReadyCount() >= p.gate.MaxReadyItems() {
		p.mu.Unlock()
		return false
	}
	if !p.sem.TryAcquire(1) {
		p.mu.Unlock()
		return false
	}

	p.queue = p.queue[1:]
	p.inFlightSet[item.path] = struct{}{}
	p.mu.Unlock()

	p.publishStats()

	p.eg.Go(func() error {
		defer p.sem.Release(1)
		defer p.signalDispatch()

		ts := p.runner.Run(p.ctx, item.path)

		p.mu.Lock()
		delete(p.inFlightSet, item.path)
		p.terminalSet[item.path] = struct{}{}
		p.mu.Unlock()

		p.publishStats()
		_ = ts // terminal state is published by the PipelineWorker itself, not re-published here
		return nil
	})
	return true
}
