package storage

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"quotesync/internal/fs"
	"quotesync/internal/objectstore"
	"quotesync/internal/qsync"
)

// LocalDriver stores uploads below a local directory and serves them through
// a static URL prefix.
type LocalDriver struct {
	core
	fsStore *objectstore.FileSystemStore
	baseURL string
	ignore  *fs.IgnoreMatcher
}

// NewLocalDriver creates a driver over store. registry may be nil.
func NewLocalDriver(store *objectstore.FileSystemStore, baseURL string, ignore *fs.IgnoreMatcher, registry qsync.Registry, ids qsync.IDGenerator, clock qsync.Clock, log qsync.Logger) *LocalDriver {
	return &LocalDriver{
		core:    core{store: store, registry: registry, ids: ids, clock: clock, log: log},
		fsStore: store,
		baseURL: baseURL,
		ignore:  ignore,
	}
}

// Kind returns qsync.KindLocal.
func (d *LocalDriver) Kind() string { return qsync.KindLocal }

// Root returns the upload directory.
func (d *LocalDriver) Root() string { return d.fsStore.Root() }

// Save writes the upload and records the attachment row best-effort: an
// attachment failure is logged and reported in the result, never returned.
func (d *LocalDriver) Save(ctx context.Context, req qsync.SaveRequest) (*qsync.SaveResult, error) {
	p, err := d.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := d.put(ctx, p, req.Data); err != nil {
		return nil, err
	}

	outcome := d.insertAttachment(ctx, p).Report(d.log, "key", p.key)
	d.log.Debug("upload saved", "key", p.key, "size", len(req.Data))
	return p.result(len(req.Data), outcome), nil
}

// SignedURL returns the static URL for key. ttl is ignored and missing
// objects are not detected.
func (d *LocalDriver) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := qsync.ValidateKey(key); err != nil {
		return "", err
	}
	return objectstore.StaticURL(d.baseURL, key), nil
}

// Locate returns the filesystem path holding key. When the expected path is
// missing it searches for the basename below the deepest existing ancestor,
// then below the key's search scope (see searchScope). The search never
// leaves that scope. Not finding the file is ("", false, nil).
func (d *LocalDriver) Locate(ctx context.Context, key string) (string, bool, error) {
	expected, err := d.fsStore.Path(key)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, true, nil
	} else if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return "", false, qsync.StorageError("stat "+key, err)
	}

	scope, ok := searchScope(key)
	if !ok {
		return "", false, nil
	}
	scopeDir := filepath.Join(d.Root(), filepath.FromSlash(scope))

	name := filepath.Base(expected)
	starts := []string{fs.NearestExistingDir(scopeDir, filepath.Dir(expected))}
	if starts[0] != scopeDir {
		starts = append(starts, scopeDir)
	}
	for _, start := range starts {
		found, ok, err := fs.FindByBasename(start, name, fs.MaxSearchDepth, d.ignore)
		if err != nil {
			return "", false, qsync.StorageError("searching for "+key, err)
		}
		if ok {
			d.log.Info("located file outside its expected path", "key", key, "path", found)
			return found, true, nil
		}
	}
	return "", false, nil
}

// searchScope returns the key prefix Locate may search: the quote directory
// customers/<c>/quotes/<q> for quote keys, else the key's own directory.
// Keys at the root have no scope.
func searchScope(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) > 4 && parts[0] == "customers" && parts[2] == "quotes" {
		return path.Join(parts[:4]...), true
	}
	dir := path.Dir(key)
	return dir, dir != "."
}

// ReadLocated reads key, falling back to Locate when the expected path is missing.
func (d *LocalDriver) ReadLocated(ctx context.Context, key string) ([]byte, error) {
	data, err := d.ReadObject(ctx, key)
	if err == nil || !errors.Is(err, qsync.ErrNotFound) {
		return data, err
	}

	p, ok, lerr := d.Locate(ctx, key)
	if lerr != nil {
		return nil, lerr
	}
	if !ok {
		return nil, err
	}
	data, rerr := os.ReadFile(p)
	if rerr != nil {
		return nil, qsync.StorageError("reading "+p, rerr)
	}
	return data, nil
}

var _ qsync.StorageDriver = (*LocalDriver)(nil)
