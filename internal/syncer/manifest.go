package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"quotesync/internal/qsync"
)

// ManifestFile is one uploaded snapshot recorded in a manifest.
type ManifestFile struct {
	Key        string `json:"key"`
	UploadedAt string `json:"uploadedAt"`
}

// Manifest is the per-quote index of snapshot versions. It is a convenience
// index: the versioned snapshot objects are authoritative.
type Manifest struct {
	LatestVersion *string        `json:"latestVersion"`
	Files         []ManifestFile `json:"files"`
}

// Append records key as the newest version.
func (m *Manifest) Append(key string, at time.Time) {
	m.Files = append(m.Files, ManifestFile{Key: key, UploadedAt: at.UTC().Format(time.RFC3339Nano)})
	m.LatestVersion = &key
}

// readManifest downloads the manifest at key. A missing manifest is empty.
func readManifest(ctx context.Context, store qsync.ObjectStore, key string) (*Manifest, error) {
	m := &Manifest{Files: []ManifestFile{}}

	rc, err := store.Get(ctx, key)
	if errors.Is(err, qsync.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, qsync.StorageError("reading manifest", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", key, err)
	}
	if m.Files == nil {
		m.Files = []ManifestFile{}
	}
	return m, nil
}

func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}
