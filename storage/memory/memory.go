// Package memory provides a thread-safe in-memory implementation of storage.KV.
package memory

import (
	"sync"

	"github.com/jrsteele09/alumni-session/storage"
)

// Store is an in-memory storage.KV. Suitable for tab-scoped storage and for tests.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers storage.Watchers
}

var _ storage.KV = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) View(keys ...string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (s *Store) Apply(origin string, batch storage.Batch) error {
	s.mu.Lock()
	if !batch.Satisfied(s.lookup) {
		s.mu.Unlock()
		return storage.ErrConflict
	}
	for _, op := range batch {
		if op.Precondition {
			continue
		}
		if op.Delete {
			delete(s.data, op.Key)
			continue
		}
		s.data[op.Key] = append([]byte(nil), op.Value...)
	}
	s.mu.Unlock()

	s.watchers.Notify(origin, batch)
	return nil
}

func (s *Store) lookup(key string) ([]byte, bool) {
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) Watch(fn func(storage.Change)) func() {
	return s.watchers.Add(fn)
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
