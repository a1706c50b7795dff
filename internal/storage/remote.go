package storage

import (
	"context"
	"fmt"
	"time"

	"quotesync/internal/qsync"
)

const compensatingDeleteStep = "compensating delete"

// RemoteDriver stores uploads in an object store such as S3. The attachment
// row is the index for an uploaded blob, so a failed insert removes the blob.
type RemoteDriver struct {
	core
}

// NewRemoteDriver creates a driver over store. registry may be nil, in which
// case no attachment rows are written.
func NewRemoteDriver(store qsync.ObjectStore, registry qsync.Registry, ids qsync.IDGenerator, clock qsync.Clock, log qsync.Logger) *RemoteDriver {
	return &RemoteDriver{core: core{store: store, registry: registry, ids: ids, clock: clock, log: log}}
}

// Kind returns qsync.KindRemote.
func (d *RemoteDriver) Kind() string { return qsync.KindRemote }

// Save uploads the bytes and records the attachment row. If the row cannot be
// written the object is deleted again and ErrStorageUnavailable is returned.
func (d *RemoteDriver) Save(ctx context.Context, req qsync.SaveRequest) (*qsync.SaveResult, error) {
	p, err := d.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := d.put(ctx, p, req.Data); err != nil {
		return nil, err
	}

	outcome := d.insertAttachment(ctx, p)
	if outcome.Err != nil {
		cleanup := qsync.Succeeded(compensatingDeleteStep)
		if err := d.store.Delete(context.WithoutCancel(ctx), p.key); err != nil {
			cleanup = qsync.Failed(compensatingDeleteStep, err)
		}
		cleanup.Report(d.log, "key", p.key)
		d.log.Error("upload rolled back", "key", p.key, "error", outcome.Err)
		return nil, fmt.Errorf("recording upload %s: %w: %w", p.key, qsync.ErrStorageUnavailable, outcome.Err)
	}

	d.log.Debug("upload saved", "key", p.key, "size", len(req.Data))
	return p.result(len(req.Data), outcome), nil
}

// SignedURL returns a presigned GET URL for key.
func (d *RemoteDriver) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := qsync.ValidateKey(key); err != nil {
		return "", err
	}
	u, err := d.store.PresignGet(ctx, key, ttl)
	if err != nil {
		return "", qsync.StorageError("signing url", err)
	}
	return u, nil
}

var _ qsync.StorageDriver = (*RemoteDriver)(nil)
