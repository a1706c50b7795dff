package database

import (
	"path/filepath"
	"testing"

	"quotesync/internal/config"
)

func TestNewRegistryFromConfig(t *testing.T) {
	t.Run("memory registry is migrated", func(t *testing.T) {
		got, err := NewRegistryFromConfig(config.DatabaseConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewRegistryFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite registry creates parent directory", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "nested", "qsync.db"),
		}
		got, err := NewRegistryFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewRegistryFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() on a fresh file database expected error, got nil")
		}
	})

	t.Run("sqlite registry without path", func(t *testing.T) {
		got, err := NewRegistryFromConfig(config.DatabaseConfig{Type: "sqlite"})
		if err == nil {
			t.Error("NewRegistryFromConfig() expected error for missing path, got nil")
		}
		if got != nil {
			t.Error("NewRegistryFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewRegistryFromConfig(config.DatabaseConfig{Type: "unknown"})
		if err == nil {
			t.Error("NewRegistryFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewRegistryFromConfig() should return nil on error")
			got.Close()
		}
	})
}
