package qsync

import (
	"context"
	"time"

	"quotesync/internal/model"
)

// Registry is the durable metadata store shared by the drivers and workers.
// Lookups of a single missing record return (nil, nil).
type Registry interface {
	// File operations

	// CreateFileWithVersion inserts a File and its first FileVersion atomically.
	CreateFileWithVersion(ctx context.Context, f *model.File, v *model.FileVersion) error

	// AddFileVersion appends a new immutable version to an existing File.
	AddFileVersion(ctx context.Context, v *model.FileVersion) error

	// GetFile returns a File by ID.
	GetFile(ctx context.Context, id string) (*model.File, error)

	// ListFilesByQuote returns the non-deleted Files of a quote, oldest first.
	ListFilesByQuote(ctx context.Context, quoteID string) ([]*model.File, error)

	// SoftDeleteFile stamps deleted_at on a File.
	SoftDeleteFile(ctx context.Context, id string, at time.Time) error

	// LatestVersion returns the newest FileVersion of a File.
	LatestVersion(ctx context.Context, fileID string) (*model.FileVersion, error)

	// FindVersionByKey returns the FileVersion stored at key.
	FindVersionByKey(ctx context.Context, key string) (*model.FileVersion, error)

	// Preview operations

	// ListPendingVersions returns up to limit versions of non-deleted files
	// that lack a preview for at least one of sizeClasses, oldest first.
	ListPendingVersions(ctx context.Context, sizeClasses []string, limit int) ([]*model.FileVersion, error)

	// FindPreviewByKey returns the preview stored at key.
	FindPreviewByKey(ctx context.Context, key string) (*model.FilePreview, error)

	// InsertPreviews records previews in one transaction. Rows that collide
	// with an existing (version, size class) or key are skipped.
	// Returns the number of rows inserted.
	InsertPreviews(ctx context.Context, previews []*model.FilePreview) (int, error)

	// ListPreviews returns the previews of a version ordered by size class.
	ListPreviews(ctx context.Context, versionID string) ([]*model.FilePreview, error)

	// Attachment operations

	// InsertAttachment records a legacy attachment row.
	InsertAttachment(ctx context.Context, a *model.Attachment) error

	// ListAttachments returns attachments of q.OwnerID, newest last.
	ListAttachments(ctx context.Context, q ListQuery) ([]*model.Attachment, error)

	// ListUnindexedAttachments returns attachments under keyPrefix that no
	// FileVersion references yet.
	ListUnindexedAttachments(ctx context.Context, keyPrefix string, limit int) ([]*model.Attachment, error)

	// Sync queue operations

	// EnqueueSync inserts a pending item and returns its ID.
	EnqueueSync(ctx context.Context, item *model.SyncQueueItem) (int64, error)

	// ClaimNextSync marks the oldest pending item processing and increments its
	// attempt counter in one statement. Returns (nil, nil) when the queue is empty.
	ClaimNextSync(ctx context.Context, now time.Time) (*model.SyncQueueItem, error)

	// CompleteSync marks an item done.
	CompleteSync(ctx context.Context, id int64, now time.Time) error

	// RetrySync returns an item to pending with the error text recorded.
	RetrySync(ctx context.Context, id int64, errText string, now time.Time) error

	// FailSync marks an item failed with the error text recorded.
	FailSync(ctx context.Context, id int64, errText string, now time.Time) error

	// RequeueSync resets an item to pending with zero attempts.
	RequeueSync(ctx context.Context, id int64, now time.Time) error

	// GetSyncItem returns a queue item by ID.
	GetSyncItem(ctx context.Context, id int64) (*model.SyncQueueItem, error)

	// ListSyncItems returns up to limit items, optionally filtered by status, oldest first.
	ListSyncItems(ctx context.Context, status string, limit int) ([]*model.SyncQueueItem, error)

	// Dead letter operations

	// InsertDeadLetter records a dead letter. At most one entry exists per
	// queue item; a second insert for the same item is a no-op.
	InsertDeadLetter(ctx context.Context, e *model.DeadLetterEntry) error

	// HasDeadLetter reports whether a dead letter exists for a queue item.
	HasDeadLetter(ctx context.Context, queueItemID int64) (bool, error)

	// ListDeadLetters returns up to limit entries, newest first.
	ListDeadLetters(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error)

	// CheckMigrations verifies that the schema is at the latest version.
	CheckMigrations() error

	// Close closes the underlying connection.
	Close() error
}
