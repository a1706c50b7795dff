package database

import (
	"fmt"
	"os"
	"path/filepath"

	"quotesync/internal/config"
)

// NewRegistryFromConfig creates a registry based on the database config type.
// In-memory registries are migrated immediately since they start empty.
func NewRegistryFromConfig(cfg config.DatabaseConfig) (*SQLiteRegistry, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite database")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return NewSQLiteRegistry(cfg.Path)
	case "memory":
		r, err := NewSQLiteRegistry(":memory:")
		if err != nil {
			return nil, err
		}
		if err := r.Migrate(); err != nil {
			r.Close()
			return nil, fmt.Errorf("migrating in-memory registry: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
