// Package queue provides the multi-producer, single-consumer event plumbing
// used between producer goroutines and the agent loop.
package queue

import "sync"

// Signal is a coalescing wakeup. Any number of Send calls made before the
// consumer receives from C collapse into a single wakeup.
type Signal struct {
	mu     sync.RWMutex
	closed bool
	c      chan struct{}
}

// NewSignal creates an open signal.
func NewSignal() *Signal {
	return &Signal{c: make(chan struct{}, 1)}
}

// Send rings the signal. It never blocks and reports false once the signal
// has been closed.
func (s *Signal) Send() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.c <- struct{}{}:
	default:
	}
	return true
}

// C returns the channel the consumer waits on.
func (s *Signal) C() <-chan struct{} {
	return s.c
}

// Close rejects every later Send. The channel itself stays open so a
// consumer selecting on it does not spin.
func (s *Signal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Signal) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
