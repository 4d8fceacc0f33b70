package stream

import (
	"context"
	"sync"
)

// Tracker counts running sessions so shutdown can wait for them to finish
// their ingest.
type Tracker struct {
	mu      sync.Mutex
	running int
	idle    chan struct{} // closed when running drops to zero
}

// Begin records a running session. The returned func ends it and may be
// called more than once.
func (t *Tracker) Begin() (done func()) {
	t.mu.Lock()
	t.running++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.running--
			if t.running == 0 && t.idle != nil {
				close(t.idle)
				t.idle = nil
			}
		})
	}
}

// Running returns the number of sessions in flight.
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Wait blocks until no session is running or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	if t.running == 0 {
		t.mu.Unlock()
		return nil
	}
	if t.idle == nil {
		t.idle = make(chan struct{})
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
