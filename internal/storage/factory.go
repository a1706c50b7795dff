package storage

import (
	"context"
	"fmt"

	"quotesync/internal/config"
	"quotesync/internal/fs"
	"quotesync/internal/objectstore"
	"quotesync/internal/qsync"
)

// Deps are the collaborators shared by both drivers.
type Deps struct {
	Registry qsync.Registry
	IDs      qsync.IDGenerator
	Clock    qsync.Clock
	Logger   qsync.Logger
}

func (d Deps) withDefaults() Deps {
	if d.IDs == nil {
		d.IDs = qsync.UUIDGenerator{}
	}
	if d.Clock == nil {
		d.Clock = qsync.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = qsync.NewNopLogger()
	}
	return d
}

// NewLocalDriverFromConfig creates a LocalDriver rooted at storage.local_root.
func NewLocalDriverFromConfig(cfg *config.Config, deps Deps) (*LocalDriver, error) {
	deps = deps.withDefaults()
	ignore := fs.NewIgnoreMatcher(cfg.Storage.ScanIgnore)
	store, err := objectstore.NewFileSystemStore(cfg.Storage.LocalRoot, cfg.Storage.StaticBaseURL, ignore)
	if err != nil {
		return nil, err
	}
	return NewLocalDriver(store, cfg.Storage.StaticBaseURL, ignore, deps.Registry, deps.IDs, deps.Clock, deps.Logger), nil
}

// Backend is the storage selected by config.
type Backend struct {
	Driver qsync.StorageDriver       // active driver for uploads and signed URLs
	Local  *LocalDriver              // always present; previews are written locally
	Store  qsync.ObjectStore         // target of quote snapshots and manifests
	Holder *objectstore.ClientHolder // nil for the local backend
}

// NewDriverFromConfig creates the one StorageDriver selected by the storage
// type, together with the local driver and the snapshot store.
func NewDriverFromConfig(ctx context.Context, cfg *config.Config, deps Deps) (*Backend, error) {
	deps = deps.withDefaults()
	switch cfg.StorageType() {
	case qsync.KindLocal, qsync.KindRemote:
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.StorageType())
	}

	local, err := NewLocalDriverFromConfig(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("creating local driver: %w", err)
	}
	if cfg.StorageType() == qsync.KindLocal {
		return &Backend{Driver: local, Local: local, Store: local.fsStore}, nil
	}

	holder, err := objectstore.NewClientHolder(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	store := objectstore.NewS3Store(holder)
	return &Backend{
		Driver: NewRemoteDriver(store, deps.Registry, deps.IDs, deps.Clock, deps.Logger),
		Local:  local,
		Store:  store,
		Holder: holder,
	}, nil
}
