// Package events fans out engine events to streaming consumers.
package events

import (
	"sync"

	"github.com/vadiminshakov/accrue/internal/domain"
)

// Broadcaster fans out values to all subscribers via buffered channels.
// Publishing never blocks: a subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// ExecutionBroadcaster streams recurring execution records.
type ExecutionBroadcaster = Broadcaster[domain.ExecutionRecord]

// NewExecutionBroadcaster creates an execution broadcaster.
func NewExecutionBroadcaster(buffer int) *ExecutionBroadcaster {
	return NewBroadcaster[domain.ExecutionRecord](buffer)
}

// Publish sends v to all subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// slow consumer
		}
	}
}

// Subscribe returns a channel that receives values until Unsubscribe is called.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
