package files

import (
	"quotesync/internal/config"
	"quotesync/internal/qsync"
)

// NewServiceFromConfig creates a Service over driver with a fresh URL cache.
// The caller closes the returned cache.
func NewServiceFromConfig(cfg *config.Config, registry qsync.Registry, driver qsync.StorageDriver, ids qsync.IDGenerator, clock qsync.Clock, log qsync.Logger) (*Service, *URLCache, error) {
	cache, err := NewURLCache()
	if err != nil {
		return nil, nil, err
	}
	svc := NewService(registry, driver, cache, cfg.Storage.StaticBaseURL, cfg.Storage.SignedURLTTL.Duration, ids, clock, log)
	return svc, cache, nil
}
