package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"quotesync/internal/model"
	"quotesync/internal/qsync"
	"quotesync/internal/storage"
)

// SourceURLTTL bounds the signed URL used to download a remote source.
const SourceURLTTL = 5 * time.Minute

// DefaultMaxSourceBytes caps a downloaded source.
const DefaultMaxSourceBytes = 256 << 20

// Options tune one preview pass.
type Options struct {
	BatchSize      int
	SizeClasses    []int
	FetchTimeout   time.Duration
	BackfillLimit  int
	MaxSourceBytes int64
}

// Report summarizes one pass. A version counts as Materialized only when
// every size class is recorded; Partial versions stay pending for the
// missing classes.
type Report struct {
	Backfilled      int
	Considered      int
	Skipped         int
	Materialized    int
	Partial         int
	PreviewsWritten int
	Failures        int
	Pending         int
}

// Worker materializes previews for file versions that have none. Previews
// are always written to the local driver and mirrored to remote when one is
// active.
type Worker struct {
	registry qsync.Registry
	local    *storage.LocalDriver
	remote   qsync.StorageDriver
	renderer *Renderer
	client   *http.Client
	ids      qsync.IDGenerator
	clock    qsync.Clock
	log      qsync.Logger
	opts     Options
}

// NewWorker creates a Worker. remote may be nil for local-only deployments.
func NewWorker(registry qsync.Registry, local *storage.LocalDriver, remote qsync.StorageDriver, renderer *Renderer, ids qsync.IDGenerator, clock qsync.Clock, log qsync.Logger, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if len(opts.SizeClasses) == 0 {
		opts.SizeClasses = []int{256, 1024}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.BackfillLimit <= 0 {
		opts.BackfillLimit = opts.BatchSize
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if remote != nil && remote.Kind() == qsync.KindLocal {
		remote = nil
	}
	return &Worker{
		registry: registry,
		local:    local,
		remote:   remote,
		renderer: renderer,
		client:   &http.Client{Timeout: opts.FetchTimeout},
		ids:      ids,
		clock:    clock,
		log:      log,
		opts:     opts,
	}
}

// Run executes a pass every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("preview pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce backfills legacy attachments and processes one batch of pending
// versions. Per-version failures are counted in the report; the error return
// is reserved for registry failures that stop the pass.
func (w *Worker) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{}

	n, err := w.Backfill(ctx)
	if err != nil {
		return report, err
	}
	report.Backfilled = n

	versions, err := w.registry.ListPendingVersions(ctx, w.sizeClassNames(), w.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("listing pending versions: %w", err)
	}

	for _, v := range versions {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Considered++
		w.materialize(ctx, v, report)
	}

	w.log.Info("preview pass complete",
		"backfilled", report.Backfilled,
		"considered", report.Considered,
		"skipped", report.Skipped,
		"materialized", report.Materialized,
		"partial", report.Partial,
		"previews", report.PreviewsWritten,
		"failures", report.Failures,
		"pending", report.Pending)
	return report, nil
}

// Backfill indexes legacy attachments under customers/ that have no
// FileVersion yet. It returns the number of files created.
func (w *Worker) Backfill(ctx context.Context) (int, error) {
	attachments, err := w.registry.ListUnindexedAttachments(ctx, qsync.CustomersPrefix, w.opts.BackfillLimit)
	if err != nil {
		return 0, fmt.Errorf("listing unindexed attachments: %w", err)
	}

	created := 0
	for _, a := range attachments {
		f, v := w.synthesize(a)
		if err := w.registry.CreateFileWithVersion(ctx, f, v); err != nil {
			// A concurrent backfill may have indexed the same key.
			w.log.Warn("backfilling attachment failed", "key", a.StorageKey, "error", err)
			continue
		}
		created++
		w.log.Debug("attachment backfilled", "key", a.StorageKey, "file", f.ID)
	}
	return created, nil
}

func (w *Worker) synthesize(a *model.Attachment) (*model.File, *model.FileVersion) {
	created := a.CreatedAt
	if created.IsZero() {
		created = w.clock.Now()
	}
	title := a.Label
	if title == "" {
		title = path.Base(a.StorageKey)
	}
	mimeType := a.ContentType
	if mimeType == "" {
		mimeType = qsync.DetectContentType(a.StorageKey)
	}

	f := &model.File{
		ID:        w.ids.New(),
		QuoteID:   a.ParentID,
		Customer:  a.Customer,
		Kind:      KindFromSubfolder(a.Subfolder),
		Title:     title,
		CreatedAt: created,
	}
	v := &model.FileVersion{
		ID:         w.ids.New(),
		FileID:     f.ID,
		StorageKey: a.StorageKey,
		MimeType:   mimeType,
		Ext:        Ext(a.StorageKey),
		SizeBytes:  a.SizeBytes,
		CreatedAt:  created,
	}
	return f, v
}

// KindFromSubfolder classifies a legacy upload by its subfolder.
func KindFromSubfolder(subfolder string) string {
	if strings.Contains(strings.ToLower(subfolder), "drawing") {
		return "drawing"
	}
	return "document"
}

// Ext returns the lowercase extension of key without the dot.
func Ext(key string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
}

func (w *Worker) sizeClassNames() []string {
	names := make([]string, len(w.opts.SizeClasses))
	for i, size := range w.opts.SizeClasses {
		names[i] = strconv.Itoa(size)
	}
	return names
}

// missingClasses returns the configured size classes with no preview row.
func (w *Worker) missingClasses(ctx context.Context, versionID string) ([]int, error) {
	existing, err := w.registry.ListPreviews(ctx, versionID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.SizeClass] = true
	}
	var missing []int
	for _, size := range w.opts.SizeClasses {
		if !have[strconv.Itoa(size)] {
			missing = append(missing, size)
		}
	}
	return missing, nil
}

func (w *Worker) materialize(ctx context.Context, v *model.FileVersion, report *Report) {
	missing, err := w.missingClasses(ctx, v.ID)
	if err != nil {
		w.log.Error("listing previews failed", "version", v.ID, "error", err)
		report.Failures++
		report.Pending++
		return
	}
	if len(missing) == 0 {
		report.Skipped++
		return
	}

	data, err := w.source(ctx, v.StorageKey)
	if err != nil {
		if errors.Is(err, qsync.ErrNotFound) {
			w.log.Warn("preview source not found, leaving pending", "version", v.ID, "key", v.StorageKey)
		} else {
			w.log.Error("reading preview source failed", "version", v.ID, "key", v.StorageKey, "error", err)
			report.Failures++
		}
		report.Pending++
		return
	}

	img, src := w.renderer.Normalize(data, v.MimeType, v.Ext)
	w.log.Debug("preview source normalized", "version", v.ID, "source", src, "classes", missing)

	var previews []*model.FilePreview
	failed := 0
	for _, size := range missing {
		p, err := w.renderClass(ctx, v, img, size)
		if err != nil {
			w.log.Error("writing preview failed", "version", v.ID, "size", size, "error", err)
			report.Failures++
			failed++
			continue
		}
		if p != nil {
			previews = append(previews, p)
		}
	}

	if len(previews) > 0 {
		inserted, err := w.registry.InsertPreviews(ctx, previews)
		if err != nil {
			w.log.Error("recording previews failed", "version", v.ID, "error", err)
			report.Failures++
			report.Pending++
			return
		}
		report.PreviewsWritten += inserted
	}

	switch {
	case failed == 0:
		report.Materialized++
	case failed < len(missing):
		w.log.Warn("preview partially materialized, leaving pending", "version", v.ID, "failed", failed)
		report.Partial++
		report.Pending++
	default:
		report.Pending++
	}
}

// renderClass writes one size class. It returns nil when a preview is
// already recorded at the class key.
func (w *Worker) renderClass(ctx context.Context, v *model.FileVersion, img image.Image, size int) (*model.FilePreview, error) {
	sizeClass := strconv.Itoa(size)
	key := qsync.PreviewKey(v.StorageKey, sizeClass, Extension)

	existing, err := w.registry.FindPreviewByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking preview %s: %w", key, err)
	}
	if existing != nil {
		return nil, nil
	}

	resized := Resize(img, size)
	data, err := w.renderer.Encode(resized)
	if err != nil {
		return nil, err
	}

	if err := w.local.WriteObject(ctx, key, data, MimeType); err != nil {
		return nil, fmt.Errorf("writing local preview: %w", err)
	}
	if w.remote != nil {
		if err := w.remote.WriteObject(ctx, key, data, MimeType); err != nil {
			return nil, fmt.Errorf("writing remote preview: %w", err)
		}
	}

	b := resized.Bounds()
	return &model.FilePreview{
		ID:            w.ids.New(),
		FileVersionID: v.ID,
		SizeClass:     sizeClass,
		StorageKey:    key,
		MimeType:      MimeType,
		Width:         b.Dx(),
		Height:        b.Dy(),
		CreatedAt:     w.clock.Now(),
	}, nil
}

// source reads the original bytes: the local driver first (with search
// fallback), then a signed URL from the remote driver.
func (w *Worker) source(ctx context.Context, key string) ([]byte, error) {
	data, err := w.local.ReadLocated(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, qsync.ErrNotFound) || w.remote == nil {
		return nil, err
	}

	url, err := w.remote.SignedURL(ctx, key, SourceURLTTL)
	if err != nil {
		return nil, err
	}
	return w.fetch(ctx, url)
}

func (w *Worker) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, qsync.StorageError("fetching source", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("fetching source: status %d: %w", resp.StatusCode, qsync.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetching source: status %d: %w", resp.StatusCode, qsync.ErrStorageUnavailable)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, w.opts.MaxSourceBytes+1))
	if err != nil {
		return nil, qsync.StorageError("reading source", err)
	}
	if int64(len(data)) > w.opts.MaxSourceBytes {
		return nil, fmt.Errorf("fetching source: larger than %d bytes: %w", w.opts.MaxSourceBytes, qsync.ErrPermanentFailure)
	}
	return data, nil
}
