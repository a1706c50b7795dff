package storage

import (
	"context"
	"testing"

	"quotesync/internal/config"
	"quotesync/internal/qsync"
)

func TestNewDriverFromConfig(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantKind string
		wantErr  bool
	}{
		{name: "default is local", mutate: func(*config.Config) {}, wantKind: qsync.KindLocal},
		{name: "bucket selects remote", mutate: func(c *config.Config) {
			c.S3.Bucket = "quotes"
			c.S3.AccessKeyID, c.S3.SecretAccessKey = "id", "secret"
		}, wantKind: qsync.KindRemote},
		{name: "explicit local wins", mutate: func(c *config.Config) {
			c.Storage.Type = "local"
			c.S3.Bucket = "quotes"
		}, wantKind: qsync.KindLocal},
		{name: "remote without bucket", mutate: func(c *config.Config) { c.Storage.Type = "remote" }, wantErr: true},
		{name: "unknown", mutate: func(c *config.Config) { c.Storage.Type = "ftp" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig(t.TempDir())
			tt.mutate(cfg)

			b, err := NewDriverFromConfig(context.Background(), cfg, Deps{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewDriverFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDriverFromConfig() error = %v", err)
			}
			if b.Driver.Kind() != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", b.Driver.Kind(), tt.wantKind)
			}
			if (b.Holder != nil) != (tt.wantKind == qsync.KindRemote) {
				t.Errorf("holder = %v for kind %q", b.Holder, tt.wantKind)
			}
			if b.Local == nil || b.Store == nil {
				t.Fatalf("backend = %+v, want local driver and snapshot store", b)
			}
			if tt.wantKind == qsync.KindLocal && b.Driver != qsync.StorageDriver(b.Local) {
				t.Error("local backend does not use the local driver")
			}
			if tt.wantKind == qsync.KindLocal && b.Store != qsync.ObjectStore(b.Local.fsStore) {
				t.Error("local backend does not share the local store for snapshots")
			}
		})
	}
}
