package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quotesync/internal/model"
	"quotesync/internal/qsync"
)

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestRegistry creates a file-backed registry in a temp dir with migrations applied.
func newTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()

	r, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	if err := r.Migrate(); err != nil {
		r.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		r.Close()
	})

	return r
}

func createFile(t *testing.T, r *SQLiteRegistry, id, quote string, at time.Time) *model.FileVersion {
	t.Helper()
	f := &model.File{ID: id, QuoteID: quote, Customer: "Acme", Kind: "drawing", Title: id + ".pdf", CreatedAt: at}
	v := &model.FileVersion{
		ID:         "v-" + id,
		StorageKey: qsync.ObjectKey("Acme", quote, "drawings", "u-"+id, id+".pdf"),
		MimeType:   "application/pdf",
		Ext:        "pdf",
		SizeBytes:  100,
		CreatedAt:  at,
	}
	if err := r.CreateFileWithVersion(context.Background(), f, v); err != nil {
		t.Fatalf("CreateFileWithVersion() error = %v", err)
	}
	return v
}

func TestSQLiteRegistry_Files(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when file not found", func(t *testing.T) {
		r := newTestRegistry(t)

		f, err := r.GetFile(ctx, "missing")
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if f != nil {
			t.Errorf("GetFile() = %v, want nil", f)
		}
	})

	t.Run("creates file with version", func(t *testing.T) {
		r := newTestRegistry(t)
		v := createFile(t, r, "f1", "Q-1", baseTime)

		f, err := r.GetFile(ctx, "f1")
		if err != nil || f == nil {
			t.Fatalf("GetFile() = %v, %v", f, err)
		}
		if f.QuoteID != "Q-1" || f.Kind != "drawing" || !f.CreatedAt.Equal(baseTime) {
			t.Errorf("GetFile() = %+v", f)
		}

		latest, err := r.LatestVersion(ctx, "f1")
		if err != nil || latest == nil {
			t.Fatalf("LatestVersion() = %v, %v", latest, err)
		}
		if latest.StorageKey != v.StorageKey || latest.FileID != "f1" {
			t.Errorf("LatestVersion() = %+v, want key %q", latest, v.StorageKey)
		}
		if latest.Width != nil {
			t.Errorf("LatestVersion().Width = %v, want nil", *latest.Width)
		}
	})

	t.Run("rolls back file when version insert fails", func(t *testing.T) {
		r := newTestRegistry(t)
		v := createFile(t, r, "f1", "Q-1", baseTime)

		dup := &model.File{ID: "f2", QuoteID: "Q-1", Kind: "drawing", Title: "dup", CreatedAt: baseTime}
		err := r.CreateFileWithVersion(ctx, dup, &model.FileVersion{ID: "v-dup", StorageKey: v.StorageKey, CreatedAt: baseTime})
		if err == nil {
			t.Fatal("CreateFileWithVersion() expected unique key error")
		}

		f, err := r.GetFile(ctx, "f2")
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if f != nil {
			t.Error("file row survived a failed version insert")
		}
	})

	t.Run("latest version follows newest insert", func(t *testing.T) {
		r := newTestRegistry(t)
		createFile(t, r, "f1", "Q-1", baseTime)

		w, h := 800, 600
		next := &model.FileVersion{
			ID: "v-f1-2", FileID: "f1", StorageKey: "customers/Acme/quotes/Q-1/drawings/u2/original/f1.png",
			MimeType: "image/png", Ext: "png", Width: &w, Height: &h, CreatedAt: baseTime.Add(time.Hour),
		}
		if err := r.AddFileVersion(ctx, next); err != nil {
			t.Fatalf("AddFileVersion() error = %v", err)
		}

		latest, err := r.LatestVersion(ctx, "f1")
		if err != nil {
			t.Fatalf("LatestVersion() error = %v", err)
		}
		if latest.ID != "v-f1-2" {
			t.Errorf("LatestVersion().ID = %q, want v-f1-2", latest.ID)
		}
		if latest.Width == nil || *latest.Width != 800 || latest.Height == nil || *latest.Height != 600 {
			t.Errorf("LatestVersion() dimensions = %v x %v", latest.Width, latest.Height)
		}

		found, err := r.FindVersionByKey(ctx, next.StorageKey)
		if err != nil || found == nil || found.ID != "v-f1-2" {
			t.Errorf("FindVersionByKey() = %v, %v", found, err)
		}
	})

	t.Run("soft delete hides file from quote listing", func(t *testing.T) {
		r := newTestRegistry(t)
		createFile(t, r, "f1", "Q-1", baseTime)
		createFile(t, r, "f2", "Q-1", baseTime.Add(time.Minute))
		createFile(t, r, "f3", "Q-2", baseTime)

		if err := r.SoftDeleteFile(ctx, "f1", baseTime.Add(time.Hour)); err != nil {
			t.Fatalf("SoftDeleteFile() error = %v", err)
		}

		files, err := r.ListFilesByQuote(ctx, "Q-1")
		if err != nil {
			t.Fatalf("ListFilesByQuote() error = %v", err)
		}
		if len(files) != 1 || files[0].ID != "f2" {
			t.Errorf("ListFilesByQuote() = %v, want [f2]", files)
		}

		f, _ := r.GetFile(ctx, "f1")
		if f == nil || f.DeletedAt == nil {
			t.Error("GetFile() did not report deleted_at")
		}

		err = r.SoftDeleteFile(ctx, "f1", baseTime)
		if !errors.Is(err, qsync.ErrNotFound) {
			t.Errorf("second SoftDeleteFile() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteRegistry_Previews(t *testing.T) {
	ctx := context.Background()
	classes := []string{"256", "1024"}

	preview := func(v *model.FileVersion, size string) *model.FilePreview {
		return &model.FilePreview{
			ID:            v.ID + "-" + size,
			FileVersionID: v.ID,
			SizeClass:     size,
			StorageKey:    qsync.PreviewKey(v.StorageKey, size, "jpg"),
			MimeType:      "image/jpeg",
			Width:         256,
			Height:        181,
			CreatedAt:     baseTime,
		}
	}

	t.Run("pending versions oldest first", func(t *testing.T) {
		r := newTestRegistry(t)
		v2 := createFile(t, r, "f2", "Q-1", baseTime.Add(2*time.Minute))
		v1 := createFile(t, r, "f1", "Q-1", baseTime)
		v3 := createFile(t, r, "f3", "Q-1", baseTime.Add(time.Minute))

		if _, err := r.InsertPreviews(ctx, []*model.FilePreview{preview(v3, "256"), preview(v3, "1024")}); err != nil {
			t.Fatalf("InsertPreviews() error = %v", err)
		}

		pending, err := r.ListPendingVersions(ctx, classes, 10)
		if err != nil {
			t.Fatalf("ListPendingVersions() error = %v", err)
		}
		if len(pending) != 2 || pending[0].ID != v1.ID || pending[1].ID != v2.ID {
			t.Errorf("ListPendingVersions() = %v, want [%s %s]", pending, v1.ID, v2.ID)
		}

		limited, err := r.ListPendingVersions(ctx, classes, 1)
		if err != nil {
			t.Fatalf("ListPendingVersions() error = %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("ListPendingVersions(1) returned %d rows", len(limited))
		}
	})

	t.Run("missing size class stays pending", func(t *testing.T) {
		r := newTestRegistry(t)
		v := createFile(t, r, "f1", "Q-1", baseTime)
		if _, err := r.InsertPreviews(ctx, []*model.FilePreview{preview(v, "256")}); err != nil {
			t.Fatalf("InsertPreviews() error = %v", err)
		}

		pending, err := r.ListPendingVersions(ctx, classes, 10)
		if err != nil {
			t.Fatalf("ListPendingVersions() error = %v", err)
		}
		if len(pending) != 1 || pending[0].ID != v.ID {
			t.Errorf("ListPendingVersions() = %v, want [%s]", pending, v.ID)
		}

		pending, err = r.ListPendingVersions(ctx, []string{"256"}, 10)
		if err != nil || len(pending) != 0 {
			t.Errorf("ListPendingVersions([256]) = %v, %v, want none", pending, err)
		}

		none, err := r.ListPendingVersions(ctx, nil, 10)
		if err != nil || len(none) != 0 {
			t.Errorf("ListPendingVersions(nil) = %v, %v, want none", none, err)
		}
	})

	t.Run("deleted files are not pending", func(t *testing.T) {
		r := newTestRegistry(t)
		createFile(t, r, "f1", "Q-1", baseTime)
		if err := r.SoftDeleteFile(ctx, "f1", baseTime); err != nil {
			t.Fatal(err)
		}

		pending, err := r.ListPendingVersions(ctx, classes, 10)
		if err != nil {
			t.Fatalf("ListPendingVersions() error = %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("ListPendingVersions() = %v, want none", pending)
		}
	})

	t.Run("insert previews is idempotent", func(t *testing.T) {
		r := newTestRegistry(t)
		v := createFile(t, r, "f1", "Q-1", baseTime)

		batch := []*model.FilePreview{preview(v, "256"), preview(v, "1024")}
		n, err := r.InsertPreviews(ctx, batch)
		if err != nil {
			t.Fatalf("InsertPreviews() error = %v", err)
		}
		if n != 2 {
			t.Errorf("InsertPreviews() inserted %d, want 2", n)
		}

		again := []*model.FilePreview{preview(v, "256"), preview(v, "1024")}
		again[0].ID, again[1].ID = "other-1", "other-2"
		n, err = r.InsertPreviews(ctx, again)
		if err != nil {
			t.Fatalf("second InsertPreviews() error = %v", err)
		}
		if n != 0 {
			t.Errorf("second InsertPreviews() inserted %d, want 0", n)
		}

		list, err := r.ListPreviews(ctx, v.ID)
		if err != nil {
			t.Fatalf("ListPreviews() error = %v", err)
		}
		if len(list) != 2 || list[0].SizeClass != "256" || list[1].SizeClass != "1024" {
			t.Errorf("ListPreviews() = %v, want 256 then 1024", list)
		}

		found, err := r.FindPreviewByKey(ctx, batch[1].StorageKey)
		if err != nil || found == nil || found.SizeClass != "1024" {
			t.Errorf("FindPreviewByKey() = %v, %v", found, err)
		}
		missing, err := r.FindPreviewByKey(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("FindPreviewByKey(missing) = %v, %v, want nil, nil", missing, err)
		}
	})

	t.Run("insert previews for unknown version rolls back", func(t *testing.T) {
		r := newTestRegistry(t)
		v := createFile(t, r, "f1", "Q-1", baseTime)
		bad := preview(&model.FileVersion{ID: "ghost", StorageKey: "ghost/original/x.pdf"}, "256")

		if _, err := r.InsertPreviews(ctx, []*model.FilePreview{preview(v, "256"), bad}); err == nil {
			t.Fatal("InsertPreviews() expected foreign key error")
		}
		list, _ := r.ListPreviews(ctx, v.ID)
		if len(list) != 0 {
			t.Errorf("ListPreviews() = %d rows after rollback, want 0", len(list))
		}
	})
}

func TestSQLiteRegistry_Attachments(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	add := func(id, parent, customer, subfolder, key string, at time.Time) {
		t.Helper()
		err := r.InsertAttachment(ctx, &model.Attachment{
			ID: id, ParentType: "quote", ParentID: parent, Customer: customer, Subfolder: subfolder,
			StorageKey: key, Label: id, ContentType: "text/plain", SizeBytes: 10, CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("InsertAttachment() error = %v", err)
		}
	}

	add("a1", "Q-1", "Acme", "drawings", "customers/Acme/quotes/Q-1/drawings/u1/original/a1", baseTime)
	add("a2", "Q-1", "Acme", "docs", "customers/Acme/quotes/Q-1/docs/u2/original/a2", baseTime.Add(time.Minute))
	add("a3", "Q-1", "acme", "drawings", "customers/acme/quotes/Q-1/drawings/u3/original/a3", baseTime.Add(2*time.Minute))
	add("a4", "Q-2", "Acme", "drawings", "legacy/a4", baseTime)

	tests := []struct {
		name  string
		query qsync.ListQuery
		want  []string
	}{
		{name: "all for quote", query: qsync.ListQuery{OwnerID: "Q-1"}, want: []string{"a1", "a2", "a3"}},
		{name: "by subfolder", query: qsync.ListQuery{OwnerID: "Q-1", Subfolder: "drawings"}, want: []string{"a1", "a3"}},
		{name: "customer is case sensitive", query: qsync.ListQuery{OwnerID: "Q-1", Customer: "Acme"}, want: []string{"a1", "a2"}},
		{name: "unknown quote", query: qsync.ListQuery{OwnerID: "Q-9"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ListAttachments(ctx, tt.query)
			if err != nil {
				t.Fatalf("ListAttachments() error = %v", err)
			}
			var ids []string
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("ListAttachments() = %v, want %v", ids, tt.want)
			}
		})
	}

	t.Run("unindexed attachments under prefix", func(t *testing.T) {
		f := &model.File{ID: "f1", QuoteID: "Q-1", Kind: "drawing", Title: "a1", CreatedAt: baseTime}
		v := &model.FileVersion{ID: "v1", StorageKey: "customers/Acme/quotes/Q-1/drawings/u1/original/a1", CreatedAt: baseTime}
		if err := r.CreateFileWithVersion(ctx, f, v); err != nil {
			t.Fatal(err)
		}

		got, err := r.ListUnindexedAttachments(ctx, qsync.CustomersPrefix, 10)
		if err != nil {
			t.Fatalf("ListUnindexedAttachments() error = %v", err)
		}
		var ids []string
		for _, a := range got {
			ids = append(ids, a.ID)
		}
		if fmt.Sprint(ids) != "[a2 a3]" {
			t.Errorf("ListUnindexedAttachments() = %v, want [a2 a3]", ids)
		}
	})
}

func TestSQLiteRegistry_SyncQueue(t *testing.T) {
	ctx := context.Background()

	enqueue := func(t *testing.T, r *SQLiteRegistry, quote string, at time.Time) int64 {
		t.Helper()
		id, err := r.EnqueueSync(ctx, &model.SyncQueueItem{
			QuoteID: quote, Customer: "Acme", Payload: json.RawMessage(`{"quote":{"rev":1}}`), CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("EnqueueSync() error = %v", err)
		}
		return id
	}

	t.Run("claim on empty queue", func(t *testing.T) {
		r := newTestRegistry(t)
		it, err := r.ClaimNextSync(ctx, baseTime)
		if err != nil || it != nil {
			t.Errorf("ClaimNextSync() = %v, %v, want nil, nil", it, err)
		}
	})

	t.Run("claims oldest pending and marks processing", func(t *testing.T) {
		r := newTestRegistry(t)
		first := enqueue(t, r, "Q-1", baseTime)
		enqueue(t, r, "Q-2", baseTime.Add(time.Second))

		it, err := r.ClaimNextSync(ctx, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("ClaimNextSync() error = %v", err)
		}
		if it.ID != first || it.Status != model.SyncProcessing || it.Attempts != 1 {
			t.Errorf("ClaimNextSync() = %+v, want id %d processing attempt 1", it, first)
		}
		if string(it.Payload) != `{"quote":{"rev":1}}` {
			t.Errorf("Payload = %s", it.Payload)
		}

		next, err := r.ClaimNextSync(ctx, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("ClaimNextSync() error = %v", err)
		}
		if next.QuoteID != "Q-2" {
			t.Errorf("second claim = %s, want Q-2", next.QuoteID)
		}

		none, err := r.ClaimNextSync(ctx, baseTime.Add(time.Minute))
		if err != nil || none != nil {
			t.Errorf("third claim = %v, %v, want nil", none, err)
		}
	})

	t.Run("retry keeps attempts and records error", func(t *testing.T) {
		r := newTestRegistry(t)
		id := enqueue(t, r, "Q-1", baseTime)

		if _, err := r.ClaimNextSync(ctx, baseTime); err != nil {
			t.Fatal(err)
		}
		if err := r.RetrySync(ctx, id, "upload failed", baseTime); err != nil {
			t.Fatalf("RetrySync() error = %v", err)
		}
		it, err := r.ClaimNextSync(ctx, baseTime)
		if err != nil {
			t.Fatal(err)
		}
		if it.Attempts != 2 || it.LastError != "upload failed" {
			t.Errorf("after retry = %+v, want attempts 2 with error", it)
		}

		if err := r.CompleteSync(ctx, id, baseTime); err != nil {
			t.Fatalf("CompleteSync() error = %v", err)
		}
		done, _ := r.GetSyncItem(ctx, id)
		if done.Status != model.SyncDone {
			t.Errorf("status = %q, want done", done.Status)
		}
	})

	t.Run("fail and requeue", func(t *testing.T) {
		r := newTestRegistry(t)
		id := enqueue(t, r, "Q-1", baseTime)

		if err := r.RequeueSync(ctx, id, baseTime); !errors.Is(err, qsync.ErrNotFound) {
			t.Errorf("RequeueSync(pending) error = %v, want ErrNotFound", err)
		}

		if _, err := r.ClaimNextSync(ctx, baseTime); err != nil {
			t.Fatal(err)
		}
		if err := r.FailSync(ctx, id, "gave up", baseTime); err != nil {
			t.Fatalf("FailSync() error = %v", err)
		}

		failed, err := r.ListSyncItems(ctx, model.SyncFailed, 10)
		if err != nil || len(failed) != 1 {
			t.Fatalf("ListSyncItems(failed) = %v, %v", failed, err)
		}

		if err := r.RequeueSync(ctx, id, baseTime); err != nil {
			t.Fatalf("RequeueSync() error = %v", err)
		}
		it, _ := r.GetSyncItem(ctx, id)
		if it.Status != model.SyncPending || it.Attempts != 0 {
			t.Errorf("after requeue = %+v, want pending with 0 attempts", it)
		}

		if err := r.CompleteSync(ctx, 999, baseTime); !errors.Is(err, qsync.ErrNotFound) {
			t.Errorf("CompleteSync(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent claims never share an item", func(t *testing.T) {
		r := newTestRegistry(t)
		for i := 0; i < 20; i++ {
			enqueue(t, r, fmt.Sprintf("Q-%d", i), baseTime.Add(time.Duration(i)*time.Second))
		}

		var mu sync.Mutex
		seen := map[int64]int{}
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					it, err := r.ClaimNextSync(ctx, baseTime)
					if err != nil {
						t.Errorf("ClaimNextSync() error = %v", err)
						return
					}
					if it == nil {
						return
					}
					mu.Lock()
					seen[it.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != 20 {
			t.Errorf("claimed %d distinct items, want 20", len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("item %d claimed %d times", id, n)
			}
		}
	})
}

func TestSQLiteRegistry_DeadLetters(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	entry := &model.DeadLetterEntry{QueueItemID: 7, QuoteID: "Q-1", Payload: `{"a":1}`, Error: "boom", Attempts: 5, CreatedAt: baseTime}
	if err := r.InsertDeadLetter(ctx, entry); err != nil {
		t.Fatalf("InsertDeadLetter() error = %v", err)
	}
	if err := r.InsertDeadLetter(ctx, entry); err != nil {
		t.Fatalf("second InsertDeadLetter() error = %v", err)
	}

	has, err := r.HasDeadLetter(ctx, 7)
	if err != nil || !has {
		t.Errorf("HasDeadLetter(7) = %v, %v", has, err)
	}
	has, err = r.HasDeadLetter(ctx, 8)
	if err != nil || has {
		t.Errorf("HasDeadLetter(8) = %v, %v", has, err)
	}

	list, err := r.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("ListDeadLetters() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListDeadLetters() returned %d entries, want 1", len(list))
	}
	if list[0].Error != "boom" || list[0].Attempts != 5 || list[0].Payload != `{"a":1}` {
		t.Errorf("ListDeadLetters()[0] = %+v", list[0])
	}
}
