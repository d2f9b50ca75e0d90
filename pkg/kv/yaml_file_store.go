package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// yamlDocument is the on-disk layout of a YAMLFileStore.
type yamlDocument struct {
	Version int               `yaml:"version"`
	Entries map[string]string `yaml:"entries"`
}

const yamlDocumentVersion = 1

// YAMLFileStore persists entries as a single YAML document on disk.
//
// Every write rewrites the whole document through a temporary file and a
// rename, so a crash never leaves a half-written file behind.
type YAMLFileStore struct {
	mu     sync.RWMutex
	path   string
	store  *InMemoryStore
	closed bool
}

var _ Store = (*YAMLFileStore)(nil)

func NewYAMLFileStore(path string) (*YAMLFileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("yaml store path is required")
	}

	s := &YAMLFileStore{
		path:  path,
		store: NewInMemoryStore(),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *YAMLFileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.Get(ctx, key)
}

func (s *YAMLFileStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Put(ctx, key, value); err != nil {
		return err
	}
	return s.persistLocked()
}

func (s *YAMLFileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, ok, _ := s.store.Get(ctx, key); !ok {
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	return s.persistLocked()
}

func (s *YAMLFileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.Keys(ctx)
}

func (s *YAMLFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *YAMLFileStore) loadFromDisk() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	doc := &yamlDocument{}
	if err := yaml.Unmarshal(b, doc); err != nil {
		return errors.Wrapf(err, "could not parse %s", s.path)
	}

	s.store = NewInMemoryStore()
	for k, v := range doc.Entries {
		s.store.entries[k] = []byte(v)
	}
	return nil
}

func (s *YAMLFileStore) persistLocked() error {
	doc := yamlDocument{
		Version: yamlDocumentVersion,
		Entries: map[string]string{},
	}
	for k, v := range s.store.snapshot() {
		doc.Entries[k] = string(v)
	}
	b, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *YAMLFileStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
