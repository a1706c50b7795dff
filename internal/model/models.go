package model

import (
	"encoding/json"
	"time"
)

// File is a logical document owned by a quote.
type File struct {
	ID        string // UUID
	QuoteID   string // opaque quote identifier
	Customer  string // customer label used in object keys
	Kind      string // e.g. "drawing", "document"
	Title     string
	CreatedAt time.Time
	DeletedAt *time.Time // soft-delete marker
}

// FileVersion is an immutable binary snapshot of a File.
type FileVersion struct {
	ID          string // UUID
	FileID      string // Foreign key to File
	StorageKey  string // unique object key
	MimeType    string
	Ext         string // lowercase, without the dot
	SizeBytes   int64
	ContentHash string // SHA-256 hex, empty for back-filled rows
	Width       *int
	Height      *int
	CreatedAt   time.Time
}

// FilePreview is a raster rendition of one FileVersion at one size class.
type FilePreview struct {
	ID            string // UUID
	FileVersionID string // Foreign key to FileVersion
	SizeClass     string // "256", "1024"
	StorageKey    string
	MimeType      string
	Width         int
	Height        int
	CreatedAt     time.Time
}

// Attachment is the legacy upload record keyed by (parent type, parent id).
type Attachment struct {
	ID          string
	ParentType  string // e.g. "quote"
	ParentID    string
	Customer    string
	Subfolder   string
	StorageKey  string
	Label       string // original filename
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

// Sync queue item statuses.
const (
	SyncPending    = "pending"
	SyncProcessing = "processing"
	SyncDone       = "done"
	SyncFailed     = "failed"
)

// SyncQueueItem is one unit of quote snapshot replication work.
type SyncQueueItem struct {
	ID           int64
	QuoteID      string
	Customer     string
	Payload      json.RawMessage // inline JSON, may be nil
	SnapshotPath string          // local snapshot file, may be empty
	Status       string
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeadLetterEntry is the terminal record of a queue item that exhausted its attempts.
type DeadLetterEntry struct {
	ID          int64     `json:"id" yaml:"id"`
	QueueItemID int64     `json:"queue_item_id" yaml:"queue_item_id"`
	QuoteID     string    `json:"quote_id" yaml:"quote_id"`
	Payload     string    `json:"payload" yaml:"payload"`
	Error       string    `json:"error" yaml:"error"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// QuoteSummary is the remote, queryable summary of a quote's latest snapshot.
type QuoteSummary struct {
	QuoteNumber       string
	Customer          string
	CurrentVersionKey string
	Totals            json.RawMessage // carried from the payload, may be nil
	SyncedAt          time.Time
}
