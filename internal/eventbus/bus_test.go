package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventlens/eventlens/core"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(core.Event{Kind: core.WindowPaused, Ready: 4, Queued: 6})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events:
			assert.Equal(t, core.WindowPaused, ev.Kind)
			assert.Equal(t, 4, ev.Ready)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.Subscribe()
	sub.Close()

	b.Publish(core.Event{Kind: core.WindowResumed})

	select {
	case _, ok := <-sub.Events:
		assert.False(t, ok, "channel should not receive after Close removed the subscriber, but may be closed-empty")
	default:
	}
}

func TestBus_FullChannelDropsOldest(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.SubscribeBuffered(2)

	b.Publish(core.Event{Kind: core.PoolStatsChanged, Stats: core.PoolStats{Queued: 1}})
	b.Publish(core.Event{Kind: core.PoolStatsChanged, Stats: core.PoolStats{Queued: 2}})
	b.Publish(core.Event{Kind: core.PoolStatsChanged, Stats: core.PoolStats{Queued: 3}})

	require.Equal(t, uint64(1), b.Dropped())

	first := <-sub.Events
	second := <-sub.Events
	assert.Equal(t, 2, first.Stats.Queued)
	assert.Equal(t, 3, second.Stats.Queued)
}

func TestBus_PublicationOrderPreservedPerSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.SubscribeBuffered(10)

	for i := range 5 {
		b.Publish(core.Event{Kind: core.TaskStageChanged, Stage: core.PipelineStage(i % 4)})
	}

	for i := range 5 {
		ev := <-sub.Events
		assert.Equal(t, core.PipelineStage(i%4), ev.Stage)
	}
}
