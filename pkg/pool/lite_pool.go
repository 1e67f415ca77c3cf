// Package pool wraps sync.Pool with generics so hot paths reuse objects
// without interface{} assertions. Types implementing Resettable are
// zeroed on the way back in.
package pool

import "sync"

type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	inner sync.Pool
}

// NewLitePool builds a pool around newFn. The constructor is probed once
// up front so a nil-returning constructor fails at wiring time, not on
// some later Get under load.
func NewLitePool[T any](newFn func() T) *Pool[T] {
	if newFn == nil {
		panic("litepool: constructor must not be nil")
	}
	if any(newFn()) == nil {
		panic("litepool: constructor returned nil")
	}
	return &Pool[T]{
		inner: sync.Pool{
			New: func() any { return newFn() },
		},
	}
}

func (p *Pool[T]) Get() T {
	return p.inner.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.inner.Put(v)
}
