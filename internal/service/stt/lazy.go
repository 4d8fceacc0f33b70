package stt

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lazy initializes a shared value on first use. Concurrent first callers
// block on one initialization; a failed initialization is retried by the
// next caller instead of being cached.
type Lazy[T any] struct {
	mu   sync.Mutex
	done atomic.Bool
	val  T
	init func(ctx context.Context) (T, error)
}

// NewLazy returns a guard that builds its value with init.
func NewLazy[T any](init func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

// Get returns the value, initializing it if needed.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if l.done.Load() {
		return l.val, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done.Load() {
		return l.val, nil
	}

	v, err := l.init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.val = v
	l.done.Store(true)
	return v, nil
}

// Peek returns the value and whether it has been initialized, without
// triggering initialization.
func (l *Lazy[T]) Peek() (T, bool) {
	if l.done.Load() {
		return l.val, true
	}
	var zero T
	return zero, false
}
