package preview

import (
	"quotesync/internal/config"
	"quotesync/internal/qsync"
	"quotesync/internal/storage"
)

// NewWorkerFromConfig creates a Worker from the preview settings. remote is
// the active storage driver; a local driver there disables mirroring.
func NewWorkerFromConfig(cfg config.PreviewConfig, registry qsync.Registry, local *storage.LocalDriver, remote qsync.StorageDriver, ids qsync.IDGenerator, clock qsync.Clock, log qsync.Logger) *Worker {
	renderer := NewRenderer(FitzRasterizer{}, cfg.JPEGQuality, log)
	return NewWorker(registry, local, remote, renderer, ids, clock, log, Options{
		BatchSize:    cfg.BatchSize,
		SizeClasses:  cfg.SizeClasses,
		FetchTimeout: cfg.FetchTimeout.Duration,
	})
}
