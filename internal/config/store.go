package config

import "sync"

// Store holds the last applied configuration. Replace is only called from
// the agent goroutine; Current may be read from anywhere.
type Store struct {
	mu      sync.RWMutex
	current *Tree
}

// Current returns the last applied tree, or nil before the first update.
func (s *Store) Current() *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace stores next and returns the previous tree together with the
// paths that differ between them.
func (s *Store) Replace(next *Tree) (*Tree, ChangeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev, Diff(prev, next)
}
