// Package window implements RollingWindow: the state machine bounding
// the ready-but-unconsumed population between the pipeline and the
// downstream human-review step. A plain struct plus mutex, with its
// invariants checked at construction; transitions here are synchronous
// and edge-triggered, with no goroutine of its own.
package window

import (
	"fmt"
	"sync"

	"github.com/eventlens/eventlens/core"
)

// Config holds the three watermarks that govern pause/resume.
type Config struct {
	// MaxReadyItems is the hard admission cap the pool consults before
	// dispatching new work.
	MaxReadyItems int
	// MinQueueBuffer is the pause watermark.
	MinQueueBuffer int
	// ResumeThreshold is the resume watermark.
	ResumeThreshold int
}

// DefaultConfig matches defaults.
func DefaultConfig() Config {
	return Config{MaxReadyItems: 15, MinQueueBuffer: 10, ResumeThreshold: 5}
}

// Validate enforces max_ready_items >= min_queue_buffer > resume_threshold >= 1.
func (c Config) Validate() error {
	if c.ResumeThreshold < 1 {
		return fmt.Errorf("%w: resume_threshold must be >= 1, got %d", core.ErrInvariantViolation, c.ResumeThreshold)
	}
	if c.MinQueueBuffer <= c.ResumeThreshold {
		return fmt.Errorf("%w: min_queue_buffer (%d) must be > resume_threshold (%d)",
			core.ErrInvariantViolation, c.MinQueueBuffer, c.ResumeThreshold)
	}
	if c.MaxReadyItems < c.MinQueueBuffer {
		return fmt.Errorf("%w: max_ready_items (%d) must be >= min_queue_buffer (%d)",
			core.ErrInvariantViolation, c.MaxReadyItems, c.MinQueueBuffer)
	}
	return nil
}

// Publisher is the event-bus surface Window needs. Satisfied by
// *eventbus.Bus; injected so this package never imports eventbus directly.
type Publisher interface {
	Publish(core.Event)
}

// Window is the RollingWindow implementation.
type Window struct {
	mu  sync.Mutex
	cfg Config
	pub Publisher

	ready       []core.Digest // completed, not yet consumed; oldest first
	consumed    []core.Digest // consumed, not yet purged from tracking; oldest first
	paused      bool
	sinceResume int
}

// New validates cfg and returns a Window in the initial running state.
func New(cfg Config, pub Publisher) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Window{cfg: cfg, pub: pub}, nil
}

// ReadyCount returns the current ready-but-unconsumed population. The pool
// consults this before every dispatch, gating on ready_count < max_ready_items.
func (w *Window) ReadyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ready)
}

// MaxReadyItems returns the configured hard admission cap.
func (w *Window) MaxReadyItems() int {
	return w.cfg.MaxReadyItems
}

// Paused reports whether admission is currently paused.
func (w *Window) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// MarkReady records a newly completed digest as ready. queueDepth is the
// pool's current queue length at the moment of completion, supplied by the
// caller since Window has no direct reference to the pool: components call
// back only via the event bus, never via direct upcalls. Pause is
// edge-triggered: it fires at most once per crossing of MinQueueBuffer.
func (w *Window) MarkReady(d core.Digest, queueDepth int) {
	w.mu.Lock()
	w.ready = append(w.ready, d)
	readyCount := len(w.ready)
	shouldPause := !w.paused && readyCount >= w.cfg.MinQueueBuffer && queueDepth > 0
	if shouldPause {
		w.paused = true
	}
	w.mu.Unlock()

	if shouldPause && w.pub != nil {
		w.pub.Publish(core.Event{Kind: core.WindowPaused, Ready: readyCount, Queued: queueDepth})
	}
}

// MarkConsumed moves d from ready to the consumed bucket and increments the
// since-pause counter. If this tips consumed-since-pause over
// ResumeThreshold while paused, it resumes and purges up to ResumeThreshold
// oldest consumed digests, returning them so the caller can forward them to
// CacheStore.DeleteMany as a hint; those digests are also
// published via CacheHintCleared. Window never calls CacheStore directly —
// it only owns ready/consumed tracking.
func (w *Window) MarkConsumed(d core.Digest) (resumed bool, hintDigests []core.Digest) {
	w.mu.Lock()
	for i, rd := range w.ready {
		if rd == d {
			w.ready = append(w.ready[:i], w.ready[i+1:]...)
			break
		}
	}
	w.consumed = append(w.consumed, d)

	if w.paused {
		w.sinceResume++
		if w.sinceResume >= w.cfg.ResumeThreshold {
			w.paused = false
			resumed = true
			n := w.cfg.ResumeThreshold
			if n > len(w.consumed) {
				n = len(w.consumed)
			}
			hintDigests = append(hintDigests, w.consumed[:n]...)
			w.consumed = w.consumed[n:]
			w.sinceResume = 0
		}
	}
	w.mu.Unlock()

	if resumed && w.pub != nil {
		w.pub.Publish(core.Event{Kind: core.WindowResumed})
		if len(hintDigests) > 0 {
			w.pub.Publish(core.Event{Kind: core.CacheHintCleared, Digests: hintDigests})
		}
	}
	return resumed, hintDigests
}
