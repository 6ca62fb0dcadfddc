package learner

import (
	"context"
	"sync"
)

// MemStore is an in-memory [Store] seeded from a static id list. It backs
// the learners.ids configuration and tests.
type MemStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns a [MemStore] containing ids.
func NewMemStore(ids ...string) *MemStore {
	s := &MemStore{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add registers id.
func (s *MemStore) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Remove unregisters id. Removing an unknown id is a no-op.
func (s *MemStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Len returns the number of registered learners.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Exists implements [Store].
func (s *MemStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }
