// Package bus fans out graph deltas from the watchers to every connected
// viewer. A slow or stalled subscriber never blocks the rest of the
// agent: sends are non-blocking, and a subscriber that can't keep up
// simply misses deltas (tracked as a per-subscriber lag counter) rather
// than stalling the watchers or the other subscribers.
package bus

import (
	"sync"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

// SubscriberCapacity bounds each subscriber's pending-delta queue.
const SubscriberCapacity = 8192

// Bus is a single-writer-many-reader fan-out point. The zero value is
// not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan core.Delta
	nextID uint64

	lagMu sync.Mutex
	lag   map[uint64]uint64
}

func New() *Bus {
	return &Bus{
		subs: make(map[uint64]chan core.Delta),
		lag:  make(map[uint64]uint64),
	}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and a receive-only channel of deltas.
func (b *Bus) Subscribe() (uint64, <-chan core.Delta) {
	ch := make(chan core.Delta, SubscriberCapacity)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once for the same id.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}

	b.lagMu.Lock()
	delete(b.lag, id)
	b.lagMu.Unlock()
}

// Publish fans d out to every current subscriber without blocking. A
// subscriber whose queue is full has its lag counter incremented and
// the delta is dropped for it only; every other subscriber is
// unaffected.
func (b *Bus) Publish(d core.Delta) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- d:
		default:
			b.recordLag(id)
		}
	}
}

// PublishBatch publishes each delta in order; callers typically pass a
// BatchBegin...BatchEnd bracketed slice from a watcher's coalesced
// output.
func (b *Bus) PublishBatch(deltas []core.Delta) {
	for _, d := range deltas {
		b.Publish(d)
	}
}

func (b *Bus) recordLag(id uint64) {
	b.lagMu.Lock()
	b.lag[id]++
	b.lagMu.Unlock()
}

// Lag returns how many deltas have been dropped for a subscriber since
// it subscribed. The counter is monotonic; this call does not reset it.
func (b *Bus) Lag(id uint64) uint64 {
	b.lagMu.Lock()
	defer b.lagMu.Unlock()
	return b.lag[id]
}

// SubscriberCount reports how many subscribers are currently attached,
// exposed for the /metrics gauge.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
