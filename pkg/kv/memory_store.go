package kv

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a thread-safe Store that lives as long as the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: map[string][]byte{},
	}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}

	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.entries[key] = cloneBytes(value)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// snapshot returns a copy of all entries, used by the file backed stores.
func (s *InMemoryStore) snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.entries))
	for k, v := range s.entries {
		out[k] = cloneBytes(v)
	}
	return out
}

func (s *InMemoryStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
