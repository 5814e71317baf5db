package policy

import "sync/atomic"

// Store publishes parameter versions atomically: one writer (the trainer)
// replaces the pointer, any number of readers load it. A reader always sees
// a complete version, never a half-updated one.
type Store struct {
	p atomic.Pointer[Params]
}

// NewStore creates a store holding the initial version.
func NewStore(p *Params) *Store {
	s := &Store{}
	s.p.Store(p)
	return s
}

// Load returns the current version.
func (s *Store) Load() *Params {
	return s.p.Load()
}

// Publish replaces the current version. The caller must not mutate p after
// publishing.
func (s *Store) Publish(p *Params) {
	s.p.Store(p)
}
