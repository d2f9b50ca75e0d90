package kv

import (
	"fmt"
	"strings"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendYAML   Backend = "yaml"
	BackendSQLite Backend = "sqlite"
)

// ParseBackend accepts the backend names used in configuration files.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendMemory:
		return BackendMemory, nil
	case BackendYAML, "yml":
		return BackendYAML, nil
	case BackendSQLite, "sqlite3", "db":
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("unknown store backend %q", s)
	}
}

// Open opens a Store for the given backend. An empty path always yields an
// in-memory store.
func Open(backend Backend, path string) (Store, error) {
	if path == "" || backend == BackendMemory {
		return NewInMemoryStore(), nil
	}
	switch backend {
	case BackendYAML:
		return NewYAMLFileStore(path)
	case BackendSQLite:
		dsn, err := SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(dsn)
	case BackendMemory:
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
