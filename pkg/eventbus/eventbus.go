// Package eventbus is a small lock-free pub/sub used to fan worker-local
// events (cache fills, purges) out to subscribers such as the sibling
// channel bridge. Subscribers that fall behind drop events rather than
// block the publisher.
package eventbus

import (
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

type Bus[T any] struct {
	subs     *xsync.Map[string, *subscriber[T]]
	seq      atomic.Uint64
	capacity int
	closed   atomic.Bool
}

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// New builds a bus whose subscribers each buffer capacity events.
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus[T]{
		subs:     xsync.NewMap[string, *subscriber[T]](),
		capacity: capacity,
	}
}

// Subscribe registers a new receiver. Cancel detaches it and closes the
// channel; after Cancel the channel must be drained, not reused.
func (b *Bus[T]) Subscribe() (ch <-chan T, cancel func()) {
	id := strconv.FormatUint(b.seq.Add(1), 10)
	sub := &subscriber[T]{ch: make(chan T, b.capacity)}
	b.subs.Store(id, sub)
	return sub.ch, func() {
		if s, ok := b.subs.LoadAndDelete(id); ok {
			close(s.ch)
		}
	}
}

// Publish delivers ev to every subscriber without blocking. A full
// subscriber's event is counted dropped and skipped.
func (b *Bus[T]) Publish(ev T) {
	if b.closed.Load() {
		return
	}
	b.subs.Range(func(_ string, sub *subscriber[T]) bool {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
		return true
	})
}

// Dropped sums events lost across all current subscribers.
func (b *Bus[T]) Dropped() uint64 {
	var total uint64
	b.subs.Range(func(_ string, sub *subscriber[T]) bool {
		total += sub.dropped.Load()
		return true
	})
	return total
}

// Close detaches every subscriber. Publish becomes a no-op.
func (b *Bus[T]) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.subs.Range(func(id string, sub *subscriber[T]) bool {
		if s, ok := b.subs.LoadAndDelete(id); ok {
			close(s.ch)
		}
		return true
	})
}
