package cert

import "sync"

// MemoryStore is an in-memory implementation of the Store interface.
// This is primarily useful for testing.
type MemoryStore struct {
	mu       sync.RWMutex
	material *Material
}

// NewMemoryStore creates a store serving m (may be nil).
func NewMemoryStore(m *Material) *MemoryStore {
	return &MemoryStore{material: m}
}

// Load returns a copy of the stored material.
func (s *MemoryStore) Load() (*Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.material == nil {
		return nil, ErrCertNotFound
	}
	c := *s.material
	return &c, nil
}

// Set replaces the stored material.
func (s *MemoryStore) Set(m *Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.material = m
}
