package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"quotesync/internal/model"
	"quotesync/internal/qsync"
)

const attachmentStep = "attachment insert"

// core holds what both backends share: key building, hashing, the metadata
// registry and raw object access through an ObjectStore.
type core struct {
	store    qsync.ObjectStore
	registry qsync.Registry // nil disables attachment rows and the structured list
	ids      qsync.IDGenerator
	clock    qsync.Clock
	log      qsync.Logger
}

// prepared is a validated upload with its canonical key assigned.
type prepared struct {
	key         string
	contentType string
	hash        string
	attachment  *model.Attachment
}

func (c *core) prepare(req qsync.SaveRequest) (*prepared, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" || qsync.Sanitize(ownerID) == "" {
		return nil, qsync.InvalidArgument("owner id required")
	}

	ownerType := req.OwnerType
	if ownerType == "" {
		ownerType = "quote"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = qsync.DetectContentType(req.OriginalName)
	}

	id := c.ids.New()
	key := qsync.ObjectKey(req.Customer, ownerID, req.Subfolder, id, req.OriginalName)
	parts, _ := qsync.ParseObjectKey(key)

	sum := sha256.Sum256(req.Data)
	return &prepared{
		key:         key,
		contentType: contentType,
		hash:        hex.EncodeToString(sum[:]),
		attachment: &model.Attachment{
			ID:          id,
			ParentType:  ownerType,
			ParentID:    ownerID,
			Customer:    parts.Customer,
			Subfolder:   parts.Subfolder,
			StorageKey:  key,
			Label:       parts.Filename,
			ContentType: contentType,
			SizeBytes:   int64(len(req.Data)),
			CreatedAt:   c.clock.Now(),
		},
	}, nil
}

func (c *core) put(ctx context.Context, p *prepared, data []byte) error {
	if err := c.store.Put(ctx, p.key, bytes.NewReader(data), int64(len(data)), p.contentType); err != nil {
		return fmt.Errorf("saving upload: %w", err)
	}
	return nil
}

func (c *core) insertAttachment(ctx context.Context, p *prepared) qsync.Outcome {
	if c.registry == nil {
		return qsync.SkippedStep(attachmentStep)
	}
	if err := c.registry.InsertAttachment(ctx, p.attachment); err != nil {
		return qsync.Failed(attachmentStep, err)
	}
	return qsync.Succeeded(attachmentStep)
}

func (p *prepared) result(size int, attachment qsync.Outcome) *qsync.SaveResult {
	return &qsync.SaveResult{
		ObjectKey:   p.key,
		ContentType: p.contentType,
		SizeBytes:   int64(size),
		ContentHash: p.hash,
		Attachment:  attachment,
	}
}

// List answers from the registry and falls back to a raw scan of the
// backend when the registry is missing or fails.
func (c *core) List(ctx context.Context, q qsync.ListQuery) ([]qsync.ListEntry, error) {
	ownerID := strings.TrimSpace(q.OwnerID)
	if ownerID == "" {
		return nil, qsync.InvalidArgument("owner id required")
	}
	q.OwnerID = ownerID
	q.Subfolder = qsync.Sanitize(q.Subfolder)
	q.Customer = qsync.Sanitize(q.Customer)

	if c.registry != nil {
		rows, err := c.registry.ListAttachments(ctx, q)
		if err == nil {
			out := make([]qsync.ListEntry, 0, len(rows))
			for _, a := range rows {
				out = append(out, qsync.ListEntry{
					ObjectKey:   a.StorageKey,
					Label:       a.Label,
					ContentType: a.ContentType,
					SizeBytes:   a.SizeBytes,
					CreatedAt:   a.CreatedAt,
				})
			}
			return out, nil
		}
		c.log.Warn("attachment query failed, scanning storage", "owner", ownerID, "error", err)
	}

	return c.scan(ctx, q)
}

func (c *core) scan(ctx context.Context, q qsync.ListQuery) ([]qsync.ListEntry, error) {
	objects, err := c.store.List(ctx, qsync.QuotePrefix(q.Customer, q.OwnerID, q.Subfolder))
	if err != nil {
		return nil, fmt.Errorf("scanning uploads: %w", err)
	}

	quoteID := qsync.Sanitize(q.OwnerID)
	var out []qsync.ListEntry
	for _, obj := range objects {
		parts, ok := qsync.ParseObjectKey(obj.Key)
		if !ok || parts.QuoteID != quoteID {
			continue
		}
		if q.Subfolder != "" && parts.Subfolder != q.Subfolder {
			continue
		}
		if q.Customer != "" && parts.Customer != q.Customer {
			continue
		}
		out = append(out, qsync.ListEntry{
			ObjectKey:   obj.Key,
			Label:       parts.Filename,
			ContentType: qsync.DetectContentType(parts.Filename),
			SizeBytes:   obj.Size,
			CreatedAt:   obj.ModTime,
		})
	}
	return out, nil
}

// WriteObject stores data at exactly key.
func (c *core) WriteObject(ctx context.Context, key string, data []byte, contentType string) error {
	return c.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// ReadObject returns the bytes stored at key.
func (c *core) ReadObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, qsync.StorageError("reading "+key, err)
	}
	return data, nil
}

// Exists reports whether an object is stored at key.
func (c *core) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.store.Stat(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, qsync.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// DeleteObject removes key.
func (c *core) DeleteObject(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
