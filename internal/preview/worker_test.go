package preview_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"quotesync/internal/model"
	"quotesync/internal/preview"
	"quotesync/internal/qsync"
	"quotesync/internal/storage"
	"quotesync/internal/testutil"
)

type pageRaster struct{ w, h int }

func (r pageRaster) FirstPage([]byte) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, r.w, r.h)), nil
}

type harness struct {
	reg    *testutil.FaultyRegistry
	local  *storage.LocalDriver
	worker *preview.Worker
}

var sizeClasses = []string{"256", "1024"}

func newHarness(t *testing.T, remote qsync.StorageDriver) *harness {
	t.Helper()
	return newHarnessWithOptions(t, remote, preview.Options{})
}

func newHarnessWithOptions(t *testing.T, remote qsync.StorageDriver, opts preview.Options) *harness {
	t.Helper()
	reg := testutil.NewFaultyRegistry(testutil.NewTestRegistry(t))
	local := testutil.NewTestLocalDriver(t, reg)
	renderer := preview.NewRenderer(pageRaster{w: 2000, h: 1000}, 0, qsync.NewNopLogger())
	opts.BatchSize = 10
	opts.SizeClasses = []int{256, 1024}
	opts.FetchTimeout = 5 * time.Second
	w := preview.NewWorker(reg, local, remote, renderer, testutil.NewStubIDGenerator(), testutil.FixedClock(), qsync.NewNopLogger(), opts)
	return &harness{reg: reg, local: local, worker: w}
}

// addVersion registers a file with one version stored at key.
func (h *harness) addVersion(t *testing.T, id, key, mimeType string) {
	t.Helper()
	at := testutil.FixedClock().Now()
	f := &model.File{ID: "file-" + id, QuoteID: "Q-300", Customer: "Acme", Kind: "drawing", Title: id, CreatedAt: at}
	v := &model.FileVersion{ID: "ver-" + id, StorageKey: key, MimeType: mimeType, Ext: preview.Ext(key), CreatedAt: at}
	if err := h.reg.CreateFileWithVersion(context.Background(), f, v); err != nil {
		t.Fatalf("CreateFileWithVersion() error = %v", err)
	}
}

func (h *harness) run(t *testing.T) *preview.Report {
	t.Helper()
	report, err := h.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	return report
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestWorker_ScenarioC(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	key := qsync.ObjectKey("Acme", "Q-300", "drawings", "0f8e", "plan.pdf")
	if err := h.local.WriteObject(ctx, key, []byte("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatal(err)
	}
	h.addVersion(t, "1", key, "application/pdf")

	report := h.run(t)
	if report.Considered != 1 || report.Materialized != 1 || report.PreviewsWritten != 2 || report.Pending != 0 {
		t.Fatalf("report = %+v", report)
	}

	previews, err := h.reg.ListPreviews(ctx, "ver-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 2 {
		t.Fatalf("previews = %d, want 2", len(previews))
	}

	want := map[string]image.Point{
		"customers/Acme/quotes/Q-300/drawings/0f8e/original/previews/256.jpg":  image.Pt(256, 128),
		"customers/Acme/quotes/Q-300/drawings/0f8e/original/previews/1024.jpg": image.Pt(1024, 512),
	}
	for _, p := range previews {
		size, ok := want[p.StorageKey]
		if !ok {
			t.Errorf("unexpected preview key %q", p.StorageKey)
			continue
		}
		delete(want, p.StorageKey)
		if p.Width != size.X || p.Height != size.Y || p.MimeType != "image/jpeg" {
			t.Errorf("preview %s = %dx%d %s, want %v image/jpeg", p.StorageKey, p.Width, p.Height, p.MimeType, size)
		}
		if ok, _ := h.local.Exists(ctx, p.StorageKey); !ok {
			t.Errorf("preview object %s not written", p.StorageKey)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing previews: %v", want)
	}
}

func TestWorker_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	key := qsync.ObjectKey("Acme", "Q-300", "files", "aa11", "photo.png")
	if err := h.local.WriteObject(ctx, key, pngBytes(t, 300, 150), "image/png"); err != nil {
		t.Fatal(err)
	}
	h.addVersion(t, "1", key, "image/png")

	first := h.run(t)
	second := h.run(t)

	if first.PreviewsWritten != 2 {
		t.Errorf("first pass wrote %d previews, want 2", first.PreviewsWritten)
	}
	if second.Considered != 0 || second.PreviewsWritten != 0 {
		t.Errorf("second pass = %+v, want nothing to do", second)
	}

	previews, _ := h.reg.ListPreviews(ctx, "ver-1")
	if len(previews) != 2 {
		t.Fatalf("previews = %d, want 2", len(previews))
	}
	for _, p := range previews {
		// 300x150 fits both classes, so the 1024 class is not upscaled.
		if p.SizeClass == "1024" && (p.Width != 300 || p.Height != 150) {
			t.Errorf("1024 preview = %dx%d, want 300x150", p.Width, p.Height)
		}
	}
}

func TestWorker_MissingSourceStaysPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.addVersion(t, "1", qsync.ObjectKey("Acme", "Q-300", "files", "bb22", "gone.pdf"), "application/pdf")

	report := h.run(t)
	if report.Pending != 1 || report.Materialized != 0 || report.Failures != 0 {
		t.Errorf("report = %+v, want one pending version", report)
	}

	pending, err := h.reg.ListPendingVersions(ctx, sizeClasses, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "ver-1" {
		t.Errorf("pending versions = %v, want ver-1", pending)
	}
}

func TestWorker_MovedSourceIsLocated(t *testing.T) {
	h := newHarness(t, nil)
	key := qsync.ObjectKey("Acme", "Q-300", "files", "cc33", "moved.png")
	testutil.WriteFile(t, filepath.Join(h.local.Root(), "customers", "Acme", "quotes", "Q-300", "archive", "moved.png"), pngBytes(t, 64, 64))
	h.addVersion(t, "1", key, "image/png")

	if report := h.run(t); report.Materialized != 1 {
		t.Errorf("report = %+v, want the moved file materialized", report)
	}
}

func TestWorker_InsertFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	key := qsync.ObjectKey("Acme", "Q-300", "files", "dd44", "photo.png")
	if err := h.local.WriteObject(ctx, key, pngBytes(t, 10, 10), "image/png"); err != nil {
		t.Fatal(err)
	}
	h.addVersion(t, "1", key, "image/png")
	h.reg.Fail(testutil.FailInsertPreviews, qsync.ErrStorageUnavailable)

	report := h.run(t)
	if report.Pending != 1 || report.Failures != 1 {
		t.Errorf("report = %+v", report)
	}

	h.reg.Fail(testutil.FailInsertPreviews, nil)
	if report := h.run(t); report.Materialized != 1 || report.PreviewsWritten != 2 {
		t.Errorf("retry report = %+v", report)
	}
}

func TestWorker_Backfill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	res, err := h.local.Save(ctx, qsync.SaveRequest{
		OwnerID:      "Q-400",
		Customer:     "Acme",
		Subfolder:    "Drawings",
		OriginalName: "part.png",
		Data:         pngBytes(t, 512, 512),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	report := h.run(t)
	if report.Backfilled != 1 || report.Materialized != 1 {
		t.Fatalf("report = %+v, want one backfilled and materialized", report)
	}

	files, err := h.reg.ListFilesByQuote(ctx, "Q-400")
	if err != nil || len(files) != 1 {
		t.Fatalf("ListFilesByQuote() = %v, %v", files, err)
	}
	if files[0].Kind != "drawing" || files[0].Title != "part.png" {
		t.Errorf("file = %+v", files[0])
	}
	v, _ := h.reg.LatestVersion(ctx, files[0].ID)
	if v == nil || v.StorageKey != res.ObjectKey || v.Ext != "png" || v.MimeType != "image/png" {
		t.Errorf("version = %+v", v)
	}

	if again := h.run(t); again.Backfilled != 0 {
		t.Errorf("second backfill = %d, want 0", again.Backfilled)
	}
}

type stubRemote struct {
	qsync.StorageDriver
	url string

	mu         sync.Mutex
	written    map[string][]byte
	failSuffix string // WriteObject fails for keys with this suffix
}

func (s *stubRemote) setFailSuffix(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSuffix = suffix
}

func (s *stubRemote) Kind() string { return qsync.KindRemote }

func (s *stubRemote) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.url + "/" + key, nil
}

func (s *stubRemote) WriteObject(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSuffix != "" && strings.HasSuffix(key, s.failSuffix) {
		return qsync.StorageError("put "+key, errors.New("connection reset"))
	}
	s.written[key] = data
	return nil
}

func TestWorker_RemoteSource(t *testing.T) {
	ctx := context.Background()
	key := qsync.ObjectKey("Acme", "Q-300", "files", "ee55", "remote.png")
	body := pngBytes(t, 100, 50)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/") != key {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	remote := &stubRemote{url: srv.URL, written: make(map[string][]byte)}
	h := newHarness(t, remote)
	h.addVersion(t, "1", key, "image/png")
	h.addVersion(t, "2", qsync.ObjectKey("Acme", "Q-300", "files", "ff66", "absent.png"), "image/png")

	report := h.run(t)
	if report.Materialized != 1 || report.Pending != 1 {
		t.Fatalf("report = %+v, want one materialized and one pending", report)
	}

	previewKey := qsync.PreviewKey(key, "256", preview.Extension)
	if _, ok := remote.written[previewKey]; !ok {
		t.Errorf("preview %s not mirrored to remote", previewKey)
	}
	if ok, _ := h.local.Exists(ctx, previewKey); !ok {
		t.Errorf("preview %s not written locally", previewKey)
	}
}

func TestWorker_ResumesMissingSizeClass(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{written: make(map[string][]byte), failSuffix: "1024.jpg"}
	h := newHarness(t, remote)
	key := qsync.ObjectKey("Acme", "Q-300", "drawings", "1a2b", "plan.pdf")
	if err := h.local.WriteObject(ctx, key, []byte("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatal(err)
	}
	h.addVersion(t, "1", key, "application/pdf")

	first := h.run(t)
	if first.Materialized != 0 || first.Partial != 1 || first.PreviewsWritten != 1 || first.Failures != 1 || first.Pending != 1 {
		t.Fatalf("first pass = %+v, want one partial version", first)
	}

	remote.setFailSuffix("")
	second := h.run(t)
	if second.Considered != 1 || second.Materialized != 1 || second.PreviewsWritten != 1 || second.Pending != 0 {
		t.Fatalf("second pass = %+v, want the missing class written", second)
	}

	previews, err := h.reg.ListPreviews(ctx, "ver-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 2 || previews[0].SizeClass != "256" || previews[1].SizeClass != "1024" {
		t.Errorf("previews = %+v, want 256 and 1024", previews)
	}
	if _, ok := remote.written[qsync.PreviewKey(key, "1024", preview.Extension)]; !ok {
		t.Error("1024 preview not mirrored after resume")
	}

	if third := h.run(t); third.Considered != 0 {
		t.Errorf("third pass = %+v, want nothing to do", third)
	}
}

func TestWorker_OversizedRemoteSource(t *testing.T) {
	ctx := context.Background()
	key := qsync.ObjectKey("Acme", "Q-300", "files", "9f9f", "huge.png")
	body := pngBytes(t, 400, 400)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	remote := &stubRemote{url: srv.URL, written: make(map[string][]byte)}
	h := newHarnessWithOptions(t, remote, preview.Options{MaxSourceBytes: int64(len(body) - 1)})
	h.addVersion(t, "1", key, "image/png")

	report := h.run(t)
	if report.Materialized != 0 || report.Failures != 1 || report.Pending != 1 {
		t.Fatalf("report = %+v, want the oversized source rejected", report)
	}
	if previews, _ := h.reg.ListPreviews(ctx, "ver-1"); len(previews) != 0 {
		t.Errorf("previews = %d, want none rendered from a truncated source", len(previews))
	}
}
