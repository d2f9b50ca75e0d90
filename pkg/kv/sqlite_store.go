package kv

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS kv_entries (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists entries in a SQLite database.
//
// Reads are served from an in-memory copy loaded at open time; writes go to
// the database first and are mirrored into the copy once they succeed.
type SQLiteStore struct {
	mu     sync.RWMutex
	dsn    string
	store  *InMemoryStore
	db     *sql.DB
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		dsn:   dsn,
		store: NewInMemoryStore(),
		db:    db,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadFromDB(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.Get(ctx, key)
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO kv_entries (key, value, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		key,
		value,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, value)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return err
	}
	return s.store.Delete(ctx, key)
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.Keys(ctx)
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite store: db is nil")
	}
	if _, err := s.db.Exec(sqliteSchemaV1); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) loadFromDB() error {
	rows, err := s.db.Query(`SELECT key, value FROM kv_entries ORDER BY key ASC`)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	s.store = NewInMemoryStore()
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		s.store.entries[key] = value
	}
	return rows.Err()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return fmt.Errorf("sqlite store db is nil")
	}
	return nil
}

// SQLiteDSNForFile returns a DSN for a database file with WAL journaling.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}
