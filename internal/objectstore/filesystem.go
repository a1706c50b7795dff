package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"quotesync/internal/fs"
	"quotesync/internal/qsync"
)

// FileSystemStore is a filesystem-backed ObjectStore. Keys map directly onto
// relative paths below root:
//
//	<root>/
//	  customers/<customer>/quotes/<quote>/<subfolder>/<id>/original/<file>
//	  quotes/<customer-slug>/<quote>/00-Quote-Form/quote.v<ts>.json
type FileSystemStore struct {
	root    string
	baseURL string
	ignore  *fs.IgnoreMatcher
}

// NewFileSystemStore creates a store rooted at root. baseURL is the prefix
// used by PresignGet (for example "/files").
func NewFileSystemStore(root, baseURL string, ignore *fs.IgnoreMatcher) (*FileSystemStore, error) {
	if root == "" {
		return nil, qsync.InvalidArgument("filesystem store requires a root directory")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, qsync.StorageError("creating store root", err)
	}
	if ignore == nil {
		ignore = fs.NewIgnoreMatcher(nil)
	}
	return &FileSystemStore{root: root, baseURL: baseURL, ignore: ignore}, nil
}

// Root returns the directory backing the store.
func (s *FileSystemStore) Root() string { return s.root }

// Path returns the filesystem path for key.
func (s *FileSystemStore) Path(key string) (string, error) {
	if err := qsync.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put stores content at key, replacing any previous object.
func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	dest, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return qsync.StorageError("creating object directory", err)
	}
	return qsync.StorageError("writing "+key, writeFile(dest, r, size))
}

// Get opens the object at key.
func (s *FileSystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, qsync.StorageError("opening "+key, err)
	}
	return f, nil
}

// Stat returns metadata for the object at key.
func (s *FileSystemStore) Stat(ctx context.Context, key string) (*qsync.ObjectInfo, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, qsync.StorageError("stat "+key, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("stat %s: %w: not a regular file", key, qsync.ErrNotFound)
	}
	return &qsync.ObjectInfo{
		Key:         key,
		Size:        info.Size(),
		ContentType: qsync.DetectContentType(key),
		ModTime:     info.ModTime().UTC(),
	}, nil
}

// Delete removes the object at key. Missing keys are not an error.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return qsync.StorageError("deleting "+key, err)
	}
	return nil
}

// List walks the directory containing prefix and returns every regular file
// whose key starts with prefix. Temp files and ignored names are skipped.
func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]qsync.ObjectInfo, error) {
	base := ""
	if i := strings.LastIndexByte(prefix, '/'); i >= 0 {
		base = prefix[:i]
	}
	walkRoot := s.root
	if base != "" {
		if err := qsync.ValidateKey(base); err != nil {
			return nil, err
		}
		walkRoot = filepath.Join(s.root, filepath.FromSlash(base))
	}

	entries, err := fs.WalkFiles(walkRoot, s.ignore)
	if err != nil {
		return nil, qsync.StorageError("listing "+prefix, err)
	}

	var out []qsync.ObjectInfo
	for _, e := range entries {
		key := e.RelPath
		if base != "" {
			key = base + "/" + e.RelPath
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, qsync.ObjectInfo{
			Key:         key,
			Size:        e.Info.Size(),
			ContentType: qsync.DetectContentType(key),
			ModTime:     e.Info.ModTime().UTC(),
		})
	}
	return out, nil
}

// PresignGet returns the static URL for key. The filesystem backend has no
// expiring URLs so ttl is ignored.
func (s *FileSystemStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := qsync.ValidateKey(key); err != nil {
		return "", err
	}
	return StaticURL(s.baseURL, key), nil
}

// StaticURL joins base and key with every key segment URL-escaped.
func StaticURL(base, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.TrimSuffix(base, "/") + "/" + path.Join(segs...)
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
// A negative expectedSize skips the size check.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

var _ qsync.ObjectStore = (*FileSystemStore)(nil)
