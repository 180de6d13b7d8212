package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventlens/eventlens/core"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []core.FilePath
	delay   time.Duration
	maxSeen int32
	inFlt   int32
}

func (r *fakeRunner) Run(ctx context.Context, path core.FilePath) core.TaskState {
	n := atomic.AddInt32(&r.inFlt, 1)
	for {
		old := atomic.LoadInt32(&r.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&r.maxSeen, old, n) {
			break
		}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
		}
	}
	atomic.AddInt32(&r.inFlt, -1)

	r.mu.Lock()
	r.calls = append(r.calls, path)
	r.mu.Unlock()
	return core.TaskState{Path: path, Outcome: core.OutcomeCompleted}
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixedGate struct {
	ready, max int
}

func (g fixedGate) ReadyCount() int    { return g.ready }
func (g fixedGate) MaxReadyItems() int { return g.max }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestPool_DispatchesWithinMaxWorkers(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	p := New(context.Background(), 2, runner)
	defer p.Close()

	for i := 0; i < 5; i++ {
		p.Submit(core.FilePath(string(rune('a' + i))))
	}

	waitFor(t, func() bool { return runner.callCount() == 5 })
	assert.LessOrEqual(t, int(atomic.LoadInt32(&runner.maxSeen)), 2)
}

func TestPool_SubmitDedupesQueuedInFlightAndTerminal(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	p := New(context.Background(), 1, runner)
	defer p.Close()

	p.Submit("x")
	p.Submit("x") // queued already, dropped
	waitFor(t, func() bool { return runner.callCount() == 1 })

	p.Submit("x") // now terminal, dropped
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, runner.callCount())

	p.ClearTerminal("x")
	p.Submit("x")
	waitFor(t, func() bool { return runner.callCount() == 2 })
}

func TestPool_SubmitPriorityJumpsQueue(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 30 * time.Millisecond}
	p := New(context.Background(), 1, runner)
	defer p.Close()

	p.Submit("first") // dispatched immediately, occupies the sole worker
	waitFor(t, func() bool { return p.Stats().InFlight == 1 })
	p.Submit("second")
	p.Submit("third")
	p.SubmitPriority("urgent", false)

	waitFor(t, func() bool { return runner.callCount() == 4 })

	runner.mu.Lock()
	calls := append([]core.FilePath(nil), runner.calls...)
	runner.mu.Unlock()

	require.Len(t, calls, 4)
	assert.Equal(t, core.FilePath("first"), calls[0])
	assert.Equal(t, core.FilePath("urgent"), calls[1])
}

func TestPool_ReadyGateBlocksNonForceDispatch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	gate := fixedGate{ready: 5, max: 5}
	p := New(context.Background(), 2, runner, WithReadyGate(gate))
	defer p.Close()

	p.Submit("blocked")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, runner.callCount(), "dispatch must stay gated while ready_count >= max_ready_items")

	p.SubmitPriority("forced", true)
	waitFor(t, func() bool { return runner.callCount() == 1 })
}

func TestPool_RemoveDropsQueuedOnly(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 30 * time.Millisecond}
	p := New(context.Background(), 1, runner)
	defer p.Close()

	p.Submit("running")
	waitFor(t, func() bool { return p.Stats().InFlight == 1 })
	p.Submit("queued")
	p.Remove("queued")

	assert.Equal(t, 0, p.Stats().Queued)
}

func TestPool_ClearQueueLeavesInFlightRunning(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 40 * time.Millisecond}
	p := New(context.Background(), 1, runner)
	defer p.Close()

	p.Submit("running")
	waitFor(t, func() bool { return p.Stats().InFlight == 1 })
	p.Submit("a")
	p.Submit("b")
	p.ClearQueue()

	assert.Equal(t, 0, p.Stats().Queued)
	waitFor(t, func() bool { return runner.callCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, runner.callCount())
}

func TestPool_PauseResumeGatesDispatch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := New(context.Background(), 1, runner)
	defer p.Close()

	p.Pause()
	p.Submit("a")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, runner.callCount())

	p.Resume()
	waitFor(t, func() bool { return runner.callCount() == 1 })
}

func TestPool_PauseDoesNotBlockForceDispatch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := New(context.Background(), 1, runner)
	defer p.Close()

	p.Pause()
	p.Submit("blocked")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, runner.callCount(), "dispatch must stay gated while paused")

	p.SubmitPriority("urgent", true)
	waitFor(t, func() bool { return runner.callCount() == 1 })

	runner.mu.Lock()
	calls := append([]core.FilePath(nil), runner.calls...)
	runner.mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, core.FilePath("urgent"), calls[0], "force must bypass the window pause, not just the ready gate")
	assert.Equal(t, 1, p.Stats().Queued, "blocked stays queued: pause still applies to non-force items")
}

type recordingPub struct {
	mu    sync.Mutex
	count int
}

func (p *recordingPub) Publish(core.Event) {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}

func TestPool_PublishesStatsChanges(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	pub := &recordingPub{}
	p := New(context.Background(), 1, runner, WithPublisher(pub))
	defer p.Close()

	p.Submit("a")
	waitFor(t, func() bool { return runner.callCount() == 1 })

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Positive(t, pub.count)
}
