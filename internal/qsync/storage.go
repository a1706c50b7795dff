package qsync

import (
	"context"
	"io"
	"time"
)

// Storage driver kinds.
const (
	KindLocal  = "local"
	KindRemote = "remote"
)

// SaveRequest describes one upload handed to a StorageDriver.
type SaveRequest struct {
	OwnerType    string // e.g. "quote"
	OwnerID      string // required
	Customer     string
	Subfolder    string
	OriginalName string
	Data         []byte
	ContentType  string // detected from OriginalName when empty
}

// SaveResult is returned by a successful Save. Attachment reports the legacy
// attachment insert, which never fails the save on the local backend.
type SaveResult struct {
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	ContentHash string
	Attachment  Outcome
}

// ListQuery selects uploads of one owner, optionally narrowed.
type ListQuery struct {
	OwnerID   string
	Subfolder string
	Customer  string
}

// ListEntry is one upload returned by List.
type ListEntry struct {
	ObjectKey   string    `json:"object_key"`
	Label       string    `json:"label"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// StorageDriver is the single contract implemented by the local and remote
// backends. Nothing above this layer knows which one is active.
type StorageDriver interface {
	// Kind returns KindLocal or KindRemote.
	Kind() string

	// Save persists bytes under the canonical object key.
	// Returns ErrInvalidArgument when OwnerID is empty and ErrStorageUnavailable
	// when the backend cannot persist the bytes.
	Save(ctx context.Context, req SaveRequest) (*SaveResult, error)

	// SignedURL returns a URL granting read access to key for roughly ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List returns the uploads matching q, falling back to a raw scan of the
	// backend when the metadata registry cannot answer.
	List(ctx context.Context, q ListQuery) ([]ListEntry, error)

	// WriteObject stores data at exactly key, replacing any previous object.
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error

	// ReadObject returns the bytes stored at key or ErrNotFound.
	ReadObject(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// ObjectStore is a flat key/value blob store. Implementations return
// ErrNotFound for missing keys and ErrStorageUnavailable for transport failures.
type ObjectStore interface {
	// Put stores size bytes read from r at key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns metadata for the object at key.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every object whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// PresignGet returns a time-limited read URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
