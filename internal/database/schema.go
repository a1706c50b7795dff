package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"quotesync/internal/database/migrations"
)

// Schema returns the CREATE statements of a freshly migrated registry,
// tables first, excluding SQLite internals and the migration table.
func Schema(ctx context.Context) (string, error) {
	db, err := OpenConnection(":memory:")
	if err != nil {
		return "", fmt.Errorf("opening scratch database: %w", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return "", fmt.Errorf("applying migrations: %w", err)
	}
	return dumpSchema(ctx, db)
}

func dumpSchema(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name`)
	if err != nil {
		return "", fmt.Errorf("reading sqlite_master: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString("-- Generated from internal/database/migrations/files/*.sql\n\n")
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning schema row: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schema rows: %w", err)
	}
	return b.String(), nil
}
