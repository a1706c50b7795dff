package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"quotesync/internal/database"
	"quotesync/internal/model"
	"quotesync/internal/qsync"
)

// NewTestRegistry creates a migrated SQLite registry in a temp directory.
// The registry is closed when the test completes.
func NewTestRegistry(t *testing.T) *database.SQLiteRegistry {
	t.Helper()

	r, err := database.NewSQLiteRegistry(filepath.Join(t.TempDir(), "qsync.db"))
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	if err := r.Migrate(); err != nil {
		r.Close()
		t.Fatalf("failed to migrate registry: %v", err)
	}

	t.Cleanup(func() {
		r.Close()
	})

	return r
}

// FaultyRegistry wraps a Registry and fails selected operations.
type FaultyRegistry struct {
	qsync.Registry

	mu   sync.Mutex
	errs map[string]error
}

// Operations a FaultyRegistry can fail.
const (
	FailInsertAttachment = "InsertAttachment"
	FailListAttachments  = "ListAttachments"
	FailInsertPreviews   = "InsertPreviews"
	FailInsertDeadLetter = "InsertDeadLetter"
)

// NewFaultyRegistry wraps inner.
func NewFaultyRegistry(inner qsync.Registry) *FaultyRegistry {
	return &FaultyRegistry{Registry: inner, errs: make(map[string]error)}
}

// Fail makes op return err. A nil err restores normal behavior.
func (f *FaultyRegistry) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *FaultyRegistry) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

func (f *FaultyRegistry) InsertAttachment(ctx context.Context, a *model.Attachment) error {
	if err := f.err(FailInsertAttachment); err != nil {
		return err
	}
	return f.Registry.InsertAttachment(ctx, a)
}

func (f *FaultyRegistry) ListAttachments(ctx context.Context, q qsync.ListQuery) ([]*model.Attachment, error) {
	if err := f.err(FailListAttachments); err != nil {
		return nil, err
	}
	return f.Registry.ListAttachments(ctx, q)
}

func (f *FaultyRegistry) InsertPreviews(ctx context.Context, previews []*model.FilePreview) (int, error) {
	if err := f.err(FailInsertPreviews); err != nil {
		return 0, err
	}
	return f.Registry.InsertPreviews(ctx, previews)
}

func (f *FaultyRegistry) InsertDeadLetter(ctx context.Context, e *model.DeadLetterEntry) error {
	if err := f.err(FailInsertDeadLetter); err != nil {
		return err
	}
	return f.Registry.InsertDeadLetter(ctx, e)
}
