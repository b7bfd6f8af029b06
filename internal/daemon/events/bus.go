package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Bus fans daemon notifications out to observers such as the HTTP event
// stream. Delivery never blocks the publisher: a subscriber whose buffer is
// full misses the notification and its drop counter advances.
//
// The bus is not durable and is unrelated to the lifecycle status channel,
// which it only mirrors.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	ch      chan Notification
	topics  []string
	dropped atomic.Uint64
}

func (s *subscription) wants(topic string) bool {
	return len(s.topics) == 0 || slices.Contains(s.topics, topic)
}

// NewBus returns an open bus without subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a feed for the given topics, or for every topic when
// none are named. The returned func unsubscribes and closes the feed; it is
// safe to call more than once. Subscribing to a closed bus yields a closed
// feed.
func (b *Bus) Subscribe(buffer int, topics ...string) (<-chan Notification, func()) {
	sub := &subscription{ch: make(chan Notification, max(buffer, 0)), topics: slices.Clone(topics)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
}

// TryPublish offers n to every subscriber of its topic and returns how many
// of them dropped it.
func (b *Bus) TryPublish(n Notification) int {
	if n == nil {
		return 0
	}
	topic := n.Topic()

	// Sends happen under the read lock so unsubscribe cannot close a feed
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, s := range b.subs {
		if !s.wants(topic) {
			continue
		}
		select {
		case s.ch <- n:
		default:
			s.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

// Subscribers returns the number of open feeds.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of notifications missed by the open
// feeds.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, s := range b.subs {
		total += s.dropped.Load()
	}
	return total
}

// Close closes every feed. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
