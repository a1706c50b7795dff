// Package summary mirrors the latest synced state of each quote into a
// remote relational table.
package summary

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"quotesync/internal/model"
	"quotesync/internal/qsync"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore upserts quote summaries into Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn with the pgx driver and applies the goose
// migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening summary database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, qsync.StorageError("connecting to summary database", err)
	}

	s := NewPostgresStoreFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection. Migrations are not run.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies pending migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("migrating summary database: %w", err)
	}
	return nil
}

const upsertSummary = `
INSERT INTO quote_summaries (quote_number, customer, current_version_key, totals, synced_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (quote_number) DO UPDATE SET
    customer = EXCLUDED.customer,
    current_version_key = EXCLUDED.current_version_key,
    totals = EXCLUDED.totals,
    synced_at = EXCLUDED.synced_at
WHERE quote_summaries.synced_at <= EXCLUDED.synced_at`

// UpsertSummary inserts or replaces the row for s.QuoteNumber. An older
// summary never overwrites a newer one.
func (s *PostgresStore) UpsertSummary(ctx context.Context, sum *model.QuoteSummary) error {
	if sum.QuoteNumber == "" {
		return qsync.InvalidArgument("quote number required")
	}

	var totals any
	if len(sum.Totals) > 0 {
		totals = string(sum.Totals)
	}

	_, err := s.db.ExecContext(ctx, upsertSummary,
		sum.QuoteNumber, sum.Customer, sum.CurrentVersionKey, totals, sum.SyncedAt.UTC())
	if err != nil {
		return qsync.StorageError("upserting quote summary", err)
	}
	return nil
}

// GetSummary returns the summary for quoteNumber, or nil if none exists.
func (s *PostgresStore) GetSummary(ctx context.Context, quoteNumber string) (*model.QuoteSummary, error) {
	var sum model.QuoteSummary
	var totals sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT quote_number, customer, current_version_key, totals, synced_at
		FROM quote_summaries WHERE quote_number = $1`, quoteNumber).
		Scan(&sum.QuoteNumber, &sum.Customer, &sum.CurrentVersionKey, &totals, &sum.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qsync.StorageError("reading quote summary", err)
	}
	if totals.Valid {
		sum.Totals = []byte(totals.String)
	}
	return &sum, nil
}

// Close closes the connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ qsync.SummaryStore = (*PostgresStore)(nil)
