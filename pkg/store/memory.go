package store

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the list in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	updated time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) Load() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.ids), nil
}

func (s *MemoryStore) Contains(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}

func (s *MemoryStore) Add(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, id := range normalize(ids) {
		if _, ok := s.ids[id]; !ok {
			s.ids[id] = struct{}{}
			added++
		}
	}
	if added > 0 {
		s.updated = time.Now()
	}
	return added, nil
}

func (s *MemoryStore) Replace(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{}, len(ids))
	for _, id := range normalize(ids) {
		s.ids[id] = struct{}{}
	}
	s.updated = time.Now()
	return nil
}

func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids), nil
}

func (s *MemoryStore) LastUpdated() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated, nil
}

func (s *MemoryStore) HealthCheck() error { return nil }

func (s *MemoryStore) Close() error { return nil }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
