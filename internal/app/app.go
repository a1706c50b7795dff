// Package app wires the storage drivers, registry and workers from config
// and exposes the operations behind the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"quotesync/internal/backoff"
	"quotesync/internal/config"
	"quotesync/internal/database"
	"quotesync/internal/database/migrations"
	"quotesync/internal/encryption"
	"quotesync/internal/files"
	"quotesync/internal/httpapi"
	"quotesync/internal/model"
	"quotesync/internal/objectstore"
	"quotesync/internal/preview"
	"quotesync/internal/qsync"
	"quotesync/internal/storage"
	"quotesync/internal/summary"
	"quotesync/internal/syncer"
)

// App is the application layer between the CLI and the workers.
// It constructs all dependencies from config and closes them on Close.
type App struct {
	cfg       *config.Config
	registry  *database.SQLiteRegistry
	local     *storage.LocalDriver
	driver    qsync.StorageDriver
	holder    *objectstore.ClientHolder
	syncStore qsync.ObjectStore
	summaries qsync.SummaryStore
	enc       qsync.Encryptor
	files     *files.Service
	urlCache  *files.URLCache
	clock     qsync.Clock
	ids       qsync.IDGenerator
	log       qsync.Logger
	op        *Operation
	logFile   *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "SyncRun", "PreviewRun").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := qsync.RealClock{}
	op := NewOperation(operation, clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{
		cfg:     cfg,
		clock:   clock,
		ids:     qsync.UUIDGenerator{},
		log:     &slogAdapter{l: logger.With("cmd", operation)},
		op:      op,
		logFile: logFile,
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.registry, err = database.NewRegistryFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}
	if err := a.registry.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date (run `qsync migrate`): %w", err)
	}

	deps := storage.Deps{Registry: a.registry, IDs: a.ids, Clock: a.clock, Logger: a.log}
	backend, err := storage.NewDriverFromConfig(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}
	a.driver, a.local, a.syncStore, a.holder = backend.Driver, backend.Local, backend.Store, backend.Holder

	a.summaries, err = summary.NewStoreFromConfig(ctx, cfg.Summary)
	if err != nil {
		return nil, fmt.Errorf("creating summary store: %w", err)
	}

	a.enc, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a.files, a.urlCache, err = files.NewServiceFromConfig(cfg, a.registry, a.driver, a.ids, a.clock, a.log)
	if err != nil {
		return nil, fmt.Errorf("creating file service: %w", err)
	}

	a.log.Info("operation started", "storage", a.driver.Kind(), "summary", cfg.Summary.Type)
	ok = true
	return a, nil
}

// Migrate applies registry migrations and, for postgres, the summary schema.
func Migrate(ctx context.Context, cfg *config.Config) error {
	registry, err := database.NewRegistryFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating registry: %w", err)
	}
	defer registry.Close()

	if err := registry.Migrate(); err != nil {
		return fmt.Errorf("migrating registry: %w", err)
	}

	// Opening the summary store applies its migrations.
	store, err := summary.NewStoreFromConfig(ctx, cfg.Summary)
	if err != nil {
		return fmt.Errorf("migrating summary store: %w", err)
	}
	return store.Close()
}

// MigrationStatus reports the registry schema version without migrating.
func MigrationStatus(cfg *config.Config) (migrations.Status, error) {
	registry, err := database.NewRegistryFromConfig(cfg.Database)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("creating registry: %w", err)
	}
	defer registry.Close()

	return registry.MigrationStatus()
}

// InitKeys generates the age key pair, sealing the private key with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	if cfg.Encryption.Type != "age" {
		return fmt.Errorf("encryption type is %q, not age", cfg.Encryption.Type)
	}
	enc := encryption.NewAgeEncryptor(cfg.Encryption)
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up age keys: %w", err)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Registry returns the metadata registry.
func (a *App) Registry() qsync.Registry { return a.registry }

// Driver returns the active storage driver.
func (a *App) Driver() qsync.StorageDriver { return a.driver }

// Files returns the downstream file query service.
func (a *App) Files() *files.Service { return a.files }

// SyncWorker builds the quote sync worker.
func (a *App) SyncWorker() *syncer.Worker {
	return syncer.NewWorker(a.registry, a.syncStore, a.summaries, a.enc, a.clock, a.log, syncer.Options{
		MaxAttempts:  a.cfg.Sync.MaxAttempts,
		PollInterval: a.cfg.Sync.PollInterval.Duration,
		Retry: backoff.Policy{
			Base:        a.cfg.Sync.RetryBase.Duration,
			MaxAttempts: a.cfg.Sync.RetryMaxAttempts,
			MaxJitter:   a.cfg.Sync.RetryMaxJitter.Duration,
		},
	})
}

// PreviewWorker builds the preview worker.
func (a *App) PreviewWorker() *preview.Worker {
	return preview.NewWorkerFromConfig(a.cfg.Preview, a.registry, a.local, a.driver, a.ids, a.clock, a.log)
}

// Handler builds the HTTP routes. Static files are served only for the local backend.
func (a *App) Handler() http.Handler {
	var local *storage.LocalDriver
	if a.driver.Kind() == qsync.KindLocal {
		local = a.local
	}
	return httpapi.NewHandler(a.files, local, a.log, httpapi.Options{
		StaticBaseURL:  a.cfg.Storage.StaticBaseURL,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
	})
}

// Enqueue hands a snapshot to the sync queue.
func (a *App) Enqueue(ctx context.Context, req syncer.EnqueueRequest) (int64, error) {
	id, err := syncer.Enqueue(ctx, a.registry, a.clock, req)
	return id, a.op.Fail(err)
}

// RunPreviewPass runs one preview pass.
func (a *App) RunPreviewPass(ctx context.Context) (*preview.Report, error) {
	if !a.cfg.Preview.Enabled {
		return &preview.Report{}, nil
	}
	report, err := a.PreviewWorker().RunOnce(ctx)
	return report, a.op.Fail(err)
}

// Requeue resets a queue item to pending with zero attempts.
func (a *App) Requeue(ctx context.Context, id int64) error {
	item, err := a.registry.GetSyncItem(ctx, id)
	if err != nil {
		return a.op.Fail(err)
	}
	if item == nil {
		return a.op.Fail(fmt.Errorf("queue item %d: %w", id, qsync.ErrNotFound))
	}
	if item.Status == model.SyncPending || item.Status == model.SyncDone {
		return a.op.Fail(qsync.InvalidArgument("queue item %d is %s", id, item.Status))
	}
	return a.op.Fail(a.registry.RequeueSync(ctx, id, a.clock.Now()))
}

// DecryptSnapshot writes the plaintext of the snapshot stored at key to w.
func (a *App) DecryptSnapshot(ctx context.Context, key, passphrase string, w io.Writer) error {
	dc, err := a.enc.Unlock(passphrase)
	if err != nil {
		return a.op.Fail(fmt.Errorf("unlocking keys: %w", err))
	}
	rc, err := a.syncStore.Get(ctx, key)
	if err != nil {
		return a.op.Fail(fmt.Errorf("reading snapshot %s: %w", key, err))
	}
	defer rc.Close()
	return a.op.Fail(dc.Decrypt(rc, w))
}

// RunOptions configure Run.
type RunOptions struct {
	ServeHTTP  bool
	Reload     <-chan os.Signal // each receive reloads S3 credentials from ConfigPath
	ConfigPath string
}

// Run hosts the sync worker, the preview worker (when enabled) and optionally
// the HTTP endpoint until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.SyncWorker().Run(ctx)
	})
	if a.cfg.Preview.Enabled {
		g.Go(func() error {
			return a.PreviewWorker().Run(ctx, a.cfg.Preview.Interval.Duration)
		})
	}
	if opts.ServeHTTP {
		g.Go(func() error {
			return httpapi.Serve(ctx, a.cfg.HTTP.Addr, a.Handler(), a.log)
		})
	}
	if opts.Reload != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-opts.Reload:
					if err := a.ReloadCredentials(ctx, opts.ConfigPath); err != nil {
						a.log.Error("reloading credentials failed", "error", err)
					}
				}
			}
		})
	}

	return a.op.Fail(g.Wait())
}

// ReloadCredentials re-reads the config file and rebuilds the S3 clients.
// The local backend has nothing to reload.
func (a *App) ReloadCredentials(ctx context.Context, configPath string) error {
	if a.holder == nil {
		a.log.Info("credential reload ignored for local storage")
		return nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := a.holder.Reload(ctx, cfg.S3); err != nil {
		return fmt.Errorf("rebuilding s3 clients: %w", err)
	}
	a.log.Info("s3 credentials reloaded", "bucket", cfg.S3.Bucket)
	return nil
}

// Close logs the operation result and closes all resources.
func (a *App) Close() error {
	var errs []error

	if a.urlCache != nil {
		errs = append(errs, a.urlCache.Close())
	}
	if a.summaries != nil {
		errs = append(errs, a.summaries.Close())
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing registry: %w", err))
		}
	}

	a.log.Info("operation finished", "status", a.op.Status, "duration", a.op.Duration(a.clock.Now()))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP endpoint until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	return a.op.Fail(httpapi.Serve(ctx, a.cfg.HTTP.Addr, a.Handler(), a.log))
}
