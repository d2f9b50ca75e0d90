package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, "credential", []byte(`{"token":"abc"}`)); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok, err := store.Get(ctx, "credential")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"token":"abc"}` {
		t.Fatalf("unexpected value %q", got)
	}

	got[0] = 'X'
	again, _, _ := store.Get(ctx, "credential")
	if string(again) != `{"token":"abc"}` {
		t.Fatalf("expected copy-on-read semantics, got %q", again)
	}

	if err := store.Put(ctx, "mode", []byte("workspace")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "credential" || keys[1] != "mode" {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := store.Delete(ctx, "credential"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(ctx, "credential"); err != nil {
		t.Fatalf("Delete of missing key returned error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "credential"); ok {
		t.Fatalf("expected key to be deleted")
	}

	if err := store.Put(ctx, "", []byte("x")); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestInMemoryStore_Lifecycle(t *testing.T) {
	store := NewInMemoryStore()
	exerciseStore(t, store)

	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, _, err := store.Get(context.Background(), "mode"); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestYAMLFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "remember.yaml")

	store, err := NewYAMLFileStore(path)
	if err != nil {
		t.Fatalf("NewYAMLFileStore returned error: %v", err)
	}
	exerciseStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := NewYAMLFileStore(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok, err := reopened.Get(ctx, "mode")
	if err != nil || !ok {
		t.Fatalf("expected persisted key: ok=%v err=%v", ok, err)
	}
	if string(got) != "workspace" {
		t.Fatalf("unexpected persisted value %q", got)
	}
	if _, ok, _ := reopened.Get(ctx, "credential"); ok {
		t.Fatalf("deleted key came back after reopen")
	}
}

func TestYAMLFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remember.yaml")
	if err := os.WriteFile(path, []byte("entries: [unterminated"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if _, err := NewYAMLFileStore(path); err == nil {
		t.Fatalf("expected parse error for corrupt file")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "remember.db"))
	if err != nil {
		t.Fatalf("SQLiteDSNForFile returned error: %v", err)
	}

	store, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	exerciseStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok, err := reopened.Get(ctx, "mode")
	if err != nil || !ok {
		t.Fatalf("expected persisted key: ok=%v err=%v", ok, err)
	}
	if string(got) != "workspace" {
		t.Fatalf("unexpected persisted value %q", got)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(BackendYAML, filepath.Join(dir, "a.yaml"))
	if err != nil {
		t.Fatalf("Open yaml returned error: %v", err)
	}
	if _, ok := s.(*YAMLFileStore); !ok {
		t.Fatalf("expected *YAMLFileStore, got %T", s)
	}

	s, err = Open(BackendSQLite, "")
	if err != nil {
		t.Fatalf("Open without path returned error: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("expected *InMemoryStore for empty path, got %T", s)
	}

	if _, err := ParseBackend("postgres"); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
