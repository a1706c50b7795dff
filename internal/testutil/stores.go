package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"quotesync/internal/fs"
	"quotesync/internal/objectstore"
	"quotesync/internal/qsync"
	"quotesync/internal/storage"
)

// NewTestLocalDriver creates a LocalDriver over a temp directory with stub
// IDs and the fixed clock. registry may be nil.
func NewTestLocalDriver(t *testing.T, registry qsync.Registry) *storage.LocalDriver {
	t.Helper()

	ignore := fs.NewIgnoreMatcher(nil)
	store, err := objectstore.NewFileSystemStore(filepath.Join(t.TempDir(), "uploads"), "/files", ignore)
	if err != nil {
		t.Fatalf("failed to create filesystem store: %v", err)
	}
	return storage.NewLocalDriver(store, "/files", ignore, registry, NewStubIDGenerator(), FixedClock(), qsync.NewNopLogger())
}

// NewTestRemoteDriver creates a RemoteDriver over an in-memory object store.
func NewTestRemoteDriver(registry qsync.Registry) (*storage.RemoteDriver, *objectstore.MemoryStore) {
	store := objectstore.NewMemoryStore()
	return storage.NewRemoteDriver(store, registry, NewStubIDGenerator(), FixedClock(), qsync.NewNopLogger()), store
}

// WriteFile creates path with content, creating parent directories.
func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
