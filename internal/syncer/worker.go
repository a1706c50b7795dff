// Package syncer replicates quote snapshots from the local sync queue to the
// remote object store and summary table.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotesync/internal/backoff"
	"quotesync/internal/encryption"
	"quotesync/internal/model"
	"quotesync/internal/qsync"
	"quotesync/internal/summary"
)

const manifestStep = "manifest update"

// Options tune the worker.
type Options struct {
	MaxAttempts  int
	PollInterval time.Duration
	Retry        backoff.Policy
}

// Worker is the single-threaded quote sync poller. Several processes may run
// workers against the same registry: claims are atomic.
type Worker struct {
	registry  qsync.Registry
	store     qsync.ObjectStore
	summaries qsync.SummaryStore
	enc       qsync.Encryptor
	clock     qsync.Clock
	log       qsync.Logger
	opts      Options
}

// NewWorker creates a Worker. A nil summaries or enc disables that step.
func NewWorker(registry qsync.Registry, store qsync.ObjectStore, summaries qsync.SummaryStore, enc qsync.Encryptor, clock qsync.Clock, log qsync.Logger, opts Options) *Worker {
	if summaries == nil {
		summaries = summary.NoneStore{}
	}
	if enc == nil {
		enc = encryption.NoneEncryptor{}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Worker{
		registry:  registry,
		store:     store,
		summaries: summaries,
		enc:       enc,
		clock:     clock,
		log:       log,
		opts:      opts,
	}
}

// Result describes one processed queue item.
type Result struct {
	ItemID      int64
	QuoteID     string
	Attempt     int
	Status      string // model.SyncDone, model.SyncPending or model.SyncFailed
	SnapshotKey string
	Manifest    qsync.Outcome
	Err         error
}

// Run polls until ctx is cancelled, sleeping PollInterval whenever the queue
// is empty or the registry fails.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("sync worker started", "poll_interval", w.opts.PollInterval, "max_attempts", w.opts.MaxAttempts)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sync worker stopped")
			return nil
		case <-timer.C:
		}

		res, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("sync poll failed", "error", err)
		}
		if res == nil || err != nil {
			timer.Reset(w.opts.PollInterval)
		} else {
			timer.Reset(0)
		}
	}
}

// ProcessNext claims and processes the oldest pending item. It returns
// (nil, nil) when the queue is empty. A processing failure is reported in
// the Result; the error return is reserved for registry failures.
func (w *Worker) ProcessNext(ctx context.Context) (*Result, error) {
	item, err := w.registry.ClaimNextSync(ctx, w.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("claiming sync item: %w", err)
	}
	if item == nil {
		return nil, nil
	}

	res := &Result{ItemID: item.ID, QuoteID: item.QuoteID, Attempt: item.Attempts}

	if item.Attempts > w.opts.MaxAttempts {
		res.Err = fmt.Errorf("%w: attempt %d exceeds maximum %d", qsync.ErrPermanentFailure, item.Attempts, w.opts.MaxAttempts)
		return res, w.fail(ctx, item, res)
	}

	w.log.Debug("processing sync item", "item", item.ID, "quote", item.QuoteID, "attempt", item.Attempts)
	res.SnapshotKey, res.Manifest, res.Err = w.process(ctx, item)

	switch {
	case res.Err == nil:
		if err := w.registry.CompleteSync(ctx, item.ID, w.clock.Now()); err != nil {
			return res, fmt.Errorf("completing sync item %d: %w", item.ID, err)
		}
		res.Status = model.SyncDone
		w.log.Info("quote synced", "item", item.ID, "quote", item.QuoteID, "key", res.SnapshotKey)
		return res, nil

	case item.Attempts < w.opts.MaxAttempts && !errors.Is(res.Err, qsync.ErrInvalidArgument):
		if err := w.registry.RetrySync(ctx, item.ID, res.Err.Error(), w.clock.Now()); err != nil {
			return res, fmt.Errorf("returning sync item %d to pending: %w", item.ID, err)
		}
		res.Status = model.SyncPending
		w.log.Warn("sync attempt failed, will retry", "item", item.ID, "attempt", item.Attempts, "error", res.Err)
		return res, nil

	default:
		return res, w.fail(ctx, item, res)
	}
}

// fail marks item failed and writes its dead letter. A dead-letter failure
// is logged only.
func (w *Worker) fail(ctx context.Context, item *model.SyncQueueItem, res *Result) error {
	now := w.clock.Now()
	errText := res.Err.Error()
	if err := w.registry.FailSync(ctx, item.ID, errText, now); err != nil {
		return fmt.Errorf("marking sync item %d failed: %w", item.ID, err)
	}
	res.Status = model.SyncFailed
	w.log.Error("sync item failed permanently", "item", item.ID, "quote", item.QuoteID, "attempts", item.Attempts, "error", res.Err)

	exists, err := w.registry.HasDeadLetter(ctx, item.ID)
	if err != nil {
		w.log.Error("checking dead letter failed", "item", item.ID, "error", err)
		return nil
	}
	if exists {
		return nil
	}

	entry := &model.DeadLetterEntry{
		QueueItemID: item.ID,
		QuoteID:     item.QuoteID,
		Payload:     bestPayload(item),
		Error:       errText,
		Attempts:    item.Attempts,
		CreatedAt:   now,
	}
	if err := w.registry.InsertDeadLetter(ctx, entry); err != nil {
		w.log.Error("writing dead letter failed", "item", item.ID, "error", err)
	}
	return nil
}

// process runs the replication steps for one item.
func (w *Worker) process(ctx context.Context, item *model.SyncQueueItem) (string, qsync.Outcome, error) {
	skipped := qsync.SkippedStep(manifestStep)

	payload, err := resolvePayload(item, w.log)
	if err != nil {
		return "", skipped, err
	}
	if !json.Valid(payload) {
		return "", skipped, qsync.InvalidArgument("sync item %d payload is not valid JSON", item.ID)
	}

	body, contentType := payload, "application/json"
	if w.enc.Extension() != "" {
		body, err = encryption.Seal(w.enc, payload)
		if err != nil {
			return "", skipped, fmt.Errorf("encrypting snapshot: %w", err)
		}
		contentType = qsync.DefaultContentType
	}

	now := w.clock.Now()
	key := qsync.SnapshotKey(item.Customer, item.QuoteID, now, w.enc.Extension())
	err = backoff.Do(ctx, w.opts.Retry, func(ctx context.Context) error {
		return w.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), contentType)
	})
	if err != nil {
		return "", skipped, fmt.Errorf("uploading snapshot: %w", err)
	}

	manifest := w.updateManifest(ctx, item, key, now).Report(w.log, "item", item.ID, "quote", item.QuoteID)

	sum := &model.QuoteSummary{
		QuoteNumber:       item.QuoteID,
		Customer:          item.Customer,
		CurrentVersionKey: key,
		Totals:            extractTotals(payload),
		SyncedAt:          now,
	}
	err = backoff.Do(ctx, w.opts.Retry, func(ctx context.Context) error {
		return w.summaries.UpsertSummary(ctx, sum)
	})
	if err != nil {
		return key, manifest, fmt.Errorf("upserting summary: %w", err)
	}

	return key, manifest, nil
}

// updateManifest appends key to the quote's manifest. Concurrent writers may
// lose updates; the manifest is rebuilt from the next successful sync.
func (w *Worker) updateManifest(ctx context.Context, item *model.SyncQueueItem, key string, now time.Time) qsync.Outcome {
	manifestKey := qsync.ManifestKey(item.Customer, item.QuoteID)

	var m *Manifest
	err := backoff.Do(ctx, w.opts.Retry, func(ctx context.Context) error {
		var err error
		m, err = readManifest(ctx, w.store, manifestKey)
		return err
	})
	if err != nil {
		return qsync.Failed(manifestStep, err)
	}

	m.Append(key, now)
	data, err := encodeManifest(m)
	if err != nil {
		return qsync.Failed(manifestStep, err)
	}

	err = backoff.Do(ctx, w.opts.Retry, func(ctx context.Context) error {
		return w.store.Put(ctx, manifestKey, bytes.NewReader(data), int64(len(data)), "application/json")
	})
	if err != nil {
		return qsync.Failed(manifestStep, err)
	}
	return qsync.Succeeded(manifestStep)
}

// EnqueueRequest is a snapshot handed to the worker by a collaborator.
type EnqueueRequest struct {
	QuoteID      string
	Customer     string
	Payload      json.RawMessage
	SnapshotPath string
}

// Enqueue validates req and inserts a pending queue item.
func (w *Worker) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	return Enqueue(ctx, w.registry, w.clock, req)
}

// Enqueue inserts a pending queue item without a running worker.
func Enqueue(ctx context.Context, registry qsync.Registry, clock qsync.Clock, req EnqueueRequest) (int64, error) {
	quoteID := strings.TrimSpace(req.QuoteID)
	if qsync.Sanitize(quoteID) == "" {
		return 0, qsync.InvalidArgument("quote id required")
	}
	if len(req.Payload) == 0 && strings.TrimSpace(req.SnapshotPath) == "" {
		return 0, qsync.InvalidArgument("payload or snapshot path required")
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return 0, qsync.InvalidArgument("payload is not valid JSON")
	}

	id, err := registry.EnqueueSync(ctx, &model.SyncQueueItem{
		QuoteID:      quoteID,
		Customer:     strings.TrimSpace(req.Customer),
		Payload:      req.Payload,
		SnapshotPath: strings.TrimSpace(req.SnapshotPath),
		CreatedAt:    clock.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("enqueueing quote %s: %w", quoteID, err)
	}
	return id, nil
}
