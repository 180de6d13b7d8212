// Package eventbus implements the core's single-writer/many-reader event
// broadcast, on a closed core.EventKind enum: subscribers switch on Kind
// rather than registering callbacks under capability strings.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/eventlens/eventlens/core"
)

// defaultBuffer is the per-subscriber channel capacity before drop-oldest
// kicks in.
const defaultBuffer = 64

// Bus is a broadcast channel of core.Event values. It must not block
// producers: a subscriber whose channel is full has its oldest
// queued event dropped to make room, and Dropped is incremented.
type Bus struct {
	publishMu sync.Mutex // serializes Publish so per-subscriber order is total, not just per-component

	mu   sync.RWMutex
	subs map[uint64]*subscription
	next uint64

	dropped atomic.Uint64
}

type subscription struct {
	ch chan core.Event
}

// Subscription is a handle returned by Subscribe. Events is the channel to
// range over; Close stops delivery and releases the subscriber slot.
type Subscription struct {
	id     uint64
	bus    *Bus
	Events <-chan core.Event
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a new subscriber with the default buffer size.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffered(defaultBuffer)
}

// SubscribeBuffered registers a new subscriber with an explicit buffer size.
func (b *Bus) SubscribeBuffered(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscription{ch: make(chan core.Event, buffer)}
	b.subs[id] = sub

	return &Subscription{id: id, bus: b, Events: sub.ch}
}

// Publish delivers ev to every current subscriber. Delivery is at-least-once
// within the process lifetime; a full subscriber channel has
// its oldest entry dropped rather than blocking the publisher.
func (b *Bus) Publish(ev core.Event) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		b.send(sub.ch, ev)
	}
}

func (b *Bus) send(ch chan core.Event, ev core.Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	// Channel full: drop the oldest queued event to make room.
	select {
	case <-ch:
		b.dropped.Add(1)
	default:
	}

	select {
	case ch <- ev:
	default:
		// Another goroutine raced us into the freed slot; drop this event too.
		b.dropped.Add(1)
	}
}

// Dropped returns the cumulative count of events dropped across all
// subscribers for lagging behind.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
