// Package stream buffers a live telephony media stream and hands the
// finished recording to the ingestion pipeline.
package stream

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a stream session.
type State int

const (
	// StateAwaitingConnect - socket accepted, no start frame yet.
	StateAwaitingConnect State = iota
	// StateStreaming - start frame received, media is buffered.
	StateStreaming
	// StateClosing - input ended, the recording is being processed.
	StateClosing
	// StateCompleted - a call was persisted. Terminal.
	StateCompleted
	// StateFailed - nothing was persisted. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingConnect:
		return "AWAITING_CONNECT"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrAlreadyStreaming = errors.New("stream already started")
	ErrSessionClosing   = errors.New("session is closing")
	ErrSessionFinished  = errors.New("session is finished")
	ErrNotClosing       = errors.New("session is not closing")
)

// Lifecycle manages the state machine for a single stream session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	AWAITING_CONNECT → STREAMING → CLOSING → COMPLETED
//	       │                          │
//	       └──────────→ CLOSING       └──→ FAILED
//
// STREAMING is entered at most once. Any non-terminal state may fail.
type Lifecycle struct {
	mu     sync.RWMutex
	state  State
	callID string
}

// NewLifecycle creates a lifecycle in AWAITING_CONNECT.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateAwaitingConnect}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// CallID returns the persisted call id once COMPLETED.
func (l *Lifecycle) CallID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.callID
}

// CanBuffer reports whether media may still be appended.
func (l *Lifecycle) CanBuffer() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateAwaitingConnect || l.state == StateStreaming
}

// Start transitions AWAITING_CONNECT to STREAMING.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateAwaitingConnect:
		l.state = StateStreaming
		return nil
	case StateStreaming:
		return ErrAlreadyStreaming
	case StateClosing:
		return ErrSessionClosing
	default:
		return ErrSessionFinished
	}
}

// BeginClose moves an open session to CLOSING.
func (l *Lifecycle) BeginClose() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateAwaitingConnect, StateStreaming:
		l.state = StateClosing
		return nil
	case StateClosing:
		return ErrSessionClosing
	default:
		return ErrSessionFinished
	}
}

// Complete records the persisted call and transitions CLOSING to COMPLETED.
func (l *Lifecycle) Complete(callID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateClosing {
		return ErrNotClosing
	}
	l.state = StateCompleted
	l.callID = callID
	return nil
}

// Fail transitions to FAILED. Returns false if already terminal.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}
