package summary

import (
	"context"
	"fmt"

	"quotesync/internal/config"
	"quotesync/internal/qsync"
)

// NewStoreFromConfig creates the SummaryStore selected by summary.type.
func NewStoreFromConfig(ctx context.Context, cfg config.SummaryConfig) (qsync.SummaryStore, error) {
	switch cfg.Type {
	case "none", "":
		return NoneStore{}, nil
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres summary store requires summary.dsn")
		}
		store, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown summary type: %q", cfg.Type)
	}
}
