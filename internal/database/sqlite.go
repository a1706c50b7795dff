package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotesync/internal/database/migrations"
	"quotesync/internal/model"
	"quotesync/internal/qsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRegistry implements qsync.Registry using SQLite.
// Every write is a single statement except the two multi-row inserts that
// must be atomic (CreateFileWithVersion, InsertPreviews).
type SQLiteRegistry struct {
	db   *sql.DB
	path string
}

// NewSQLiteRegistry opens a registry database.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteRegistry{db: db, path: path}, nil
}

// NewSQLiteRegistryFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteRegistryFromDB(db *sql.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// Connection-scoped settings go in the DSN so every pooled connection gets them.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteRegistry) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies that the schema is at the latest version.
func (s *SQLiteRegistry) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrationStatus reports the schema version.
func (s *SQLiteRegistry) MigrationStatus() (migrations.Status, error) {
	return migrations.GetStatus(s.db)
}

// DB exposes the underlying connection for tests and tools.
func (s *SQLiteRegistry) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// File operations

const fileColumns = "id, quote_id, customer, kind, title, created_at, deleted_at"

func scanFile(row rowScanner) (*model.File, error) {
	var f model.File
	var deletedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.QuoteID, &f.Customer, &f.Kind, &f.Title, &f.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return &f, nil
}

const versionColumns = "id, file_id, storage_key, mime_type, ext, size_bytes, content_hash, width, height, created_at"

func scanVersion(row rowScanner) (*model.FileVersion, error) {
	var v model.FileVersion
	var width, height sql.NullInt64
	if err := row.Scan(&v.ID, &v.FileID, &v.StorageKey, &v.MimeType, &v.Ext, &v.SizeBytes,
		&v.ContentHash, &width, &height, &v.CreatedAt); err != nil {
		return nil, err
	}
	if width.Valid {
		w := int(width.Int64)
		v.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		v.Height = &h
	}
	return &v, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVersion(ctx context.Context, e execer, v *model.FileVersion) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO file_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FileID, v.StorageKey, v.MimeType, v.Ext, v.SizeBytes, v.ContentHash,
		nullInt(v.Width), nullInt(v.Height), v.CreatedAt.UTC())
	return err
}

func (s *SQLiteRegistry) CreateFileWithVersion(ctx context.Context, f *model.File, v *model.FileVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (id, quote_id, customer, kind, title, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.QuoteID, f.Customer, f.Kind, f.Title, f.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}

	v.FileID = f.ID
	if err := insertVersion(ctx, tx, v); err != nil {
		return fmt.Errorf("inserting file version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteRegistry) AddFileVersion(ctx context.Context, v *model.FileVersion) error {
	if err := insertVersion(ctx, s.db, v); err != nil {
		return fmt.Errorf("inserting file version: %w", err)
	}
	return nil
}

func (s *SQLiteRegistry) GetFile(ctx context.Context, id string) (*model.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return f, nil
}

func (s *SQLiteRegistry) ListFilesByQuote(ctx context.Context, quoteID string) ([]*model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE quote_id = ? AND deleted_at IS NULL
		ORDER BY created_at, id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var out []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteRegistry) SoftDeleteFile(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE files SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting file %s: %w", id, qsync.ErrNotFound)
	}
	return nil
}

func (s *SQLiteRegistry) LatestVersion(ctx context.Context, fileID string) (*model.FileVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM file_versions
		WHERE file_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, fileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest version: %w", err)
	}
	return v, nil
}

func (s *SQLiteRegistry) FindVersionByKey(ctx context.Context, key string) (*model.FileVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM file_versions WHERE storage_key = ?", key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding version by key: %w", err)
	}
	return v, nil
}

// Preview operations

func (s *SQLiteRegistry) ListPendingVersions(ctx context.Context, sizeClasses []string, limit int) ([]*model.FileVersion, error) {
	if len(sizeClasses) == 0 {
		return nil, nil
	}

	values := strings.TrimSuffix(strings.Repeat("(?),", len(sizeClasses)), ",")
	args := make([]any, 0, len(sizeClasses)+1)
	for _, c := range sizeClasses {
		args = append(args, c)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		WITH classes(size_class) AS (VALUES `+values+`)
		SELECT v.id, v.file_id, v.storage_key, v.mime_type, v.ext, v.size_bytes, v.content_hash,
		       v.width, v.height, v.created_at
		FROM file_versions v
		JOIN files f ON f.id = v.file_id
		WHERE f.deleted_at IS NULL
		  AND EXISTS (
		    SELECT 1 FROM classes c
		    WHERE NOT EXISTS (
		      SELECT 1 FROM file_previews p
		      WHERE p.file_version_id = v.id AND p.size_class = c.size_class))
		ORDER BY v.created_at, v.id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending versions: %w", err)
	}
	defer rows.Close()

	var out []*model.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const previewColumns = "id, file_version_id, size_class, storage_key, mime_type, width, height, created_at"

func scanPreview(row rowScanner) (*model.FilePreview, error) {
	var p model.FilePreview
	if err := row.Scan(&p.ID, &p.FileVersionID, &p.SizeClass, &p.StorageKey, &p.MimeType,
		&p.Width, &p.Height, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteRegistry) FindPreviewByKey(ctx context.Context, key string) (*model.FilePreview, error) {
	p, err := scanPreview(s.db.QueryRowContext(ctx,
		"SELECT "+previewColumns+" FROM file_previews WHERE storage_key = ?", key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding preview by key: %w", err)
	}
	return p, nil
}

func (s *SQLiteRegistry) InsertPreviews(ctx context.Context, previews []*model.FilePreview) (int, error) {
	if len(previews) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range previews {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO file_previews (`+previewColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			p.ID, p.FileVersionID, p.SizeClass, p.StorageKey, p.MimeType, p.Width, p.Height, p.CreatedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("inserting preview %s: %w", p.StorageKey, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("inserting preview %s: %w", p.StorageKey, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteRegistry) ListPreviews(ctx context.Context, versionID string) ([]*model.FilePreview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+previewColumns+` FROM file_previews
		WHERE file_version_id = ?
		ORDER BY CAST(size_class AS INTEGER), size_class`, versionID)
	if err != nil {
		return nil, fmt.Errorf("listing previews: %w", err)
	}
	defer rows.Close()

	var out []*model.FilePreview
	for rows.Next() {
		p, err := scanPreview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning preview: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Attachment operations

const attachmentColumns = "id, parent_type, parent_id, customer, subfolder, storage_key, label, content_type, size_bytes, created_at"

func scanAttachment(row rowScanner) (*model.Attachment, error) {
	var a model.Attachment
	if err := row.Scan(&a.ID, &a.ParentType, &a.ParentID, &a.Customer, &a.Subfolder, &a.StorageKey,
		&a.Label, &a.ContentType, &a.SizeBytes, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteRegistry) InsertAttachment(ctx context.Context, a *model.Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (`+attachmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ParentType, a.ParentID, a.Customer, a.Subfolder, a.StorageKey, a.Label,
		a.ContentType, a.SizeBytes, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}

func (s *SQLiteRegistry) ListAttachments(ctx context.Context, q qsync.ListQuery) ([]*model.Attachment, error) {
	query := "SELECT " + attachmentColumns + " FROM attachments WHERE parent_id = ?"
	args := []any{q.OwnerID}
	if q.Subfolder != "" {
		query += " AND subfolder = ?"
		args = append(args, q.Subfolder)
	}
	if q.Customer != "" {
		query += " AND customer = ?"
		args = append(args, q.Customer)
	}
	query += " ORDER BY created_at, id"

	return s.queryAttachments(ctx, query, args...)
}

func (s *SQLiteRegistry) ListUnindexedAttachments(ctx context.Context, keyPrefix string, limit int) ([]*model.Attachment, error) {
	return s.queryAttachments(ctx, `
		SELECT `+attachmentColumns+` FROM attachments a
		WHERE substr(a.storage_key, 1, length(?)) = ?
		  AND NOT EXISTS (SELECT 1 FROM file_versions v WHERE v.storage_key = a.storage_key)
		ORDER BY a.created_at, a.id
		LIMIT ?`, keyPrefix, keyPrefix, limit)
}

func (s *SQLiteRegistry) queryAttachments(ctx context.Context, query string, args ...any) ([]*model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var out []*model.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Sync queue operations

const queueColumns = "id, quote_id, customer, payload, snapshot_path, status, attempts, last_error, created_at, updated_at"

func scanQueueItem(row rowScanner) (*model.SyncQueueItem, error) {
	var it model.SyncQueueItem
	var payload, snapshotPath, lastError sql.NullString
	if err := row.Scan(&it.ID, &it.QuoteID, &it.Customer, &payload, &snapshotPath, &it.Status,
		&it.Attempts, &lastError, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		it.Payload = json.RawMessage(payload.String)
	}
	it.SnapshotPath = snapshotPath.String
	it.LastError = lastError.String
	return &it, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLiteRegistry) EnqueueSync(ctx context.Context, item *model.SyncQueueItem) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_sync_queue (quote_id, customer, payload, snapshot_path, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		item.QuoteID, item.Customer, nullString(string(item.Payload)), nullString(item.SnapshotPath),
		model.SyncPending, item.CreatedAt.UTC(), item.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("enqueueing sync item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sync item id: %w", err)
	}
	return id, nil
}

func (s *SQLiteRegistry) ClaimNextSync(ctx context.Context, now time.Time) (*model.SyncQueueItem, error) {
	// One statement: concurrent workers cannot claim the same row.
	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE quote_sync_queue
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM quote_sync_queue
			WHERE status = ?
			ORDER BY created_at, id
			LIMIT 1
		) AND status = ?
		RETURNING id`,
		model.SyncProcessing, now.UTC(), model.SyncPending, model.SyncPending).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Queue empty
		}
		return nil, fmt.Errorf("claiming sync item: %w", err)
	}
	return s.GetSyncItem(ctx, id)
}

func (s *SQLiteRegistry) setSyncStatus(ctx context.Context, id int64, status string, errText *string, now time.Time) error {
	var res sql.Result
	var err error
	if errText == nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE quote_sync_queue SET status = ?, updated_at = ? WHERE id = ?",
			status, now.UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE quote_sync_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?",
			status, *errText, now.UTC(), id)
	}
	if err != nil {
		return fmt.Errorf("setting sync item %d to %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("setting sync item %d to %s: %w", id, status, qsync.ErrNotFound)
	}
	return nil
}

func (s *SQLiteRegistry) CompleteSync(ctx context.Context, id int64, now time.Time) error {
	return s.setSyncStatus(ctx, id, model.SyncDone, nil, now)
}

func (s *SQLiteRegistry) RetrySync(ctx context.Context, id int64, errText string, now time.Time) error {
	return s.setSyncStatus(ctx, id, model.SyncPending, &errText, now)
}

func (s *SQLiteRegistry) FailSync(ctx context.Context, id int64, errText string, now time.Time) error {
	return s.setSyncStatus(ctx, id, model.SyncFailed, &errText, now)
}

func (s *SQLiteRegistry) RequeueSync(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quote_sync_queue
		SET status = ?, attempts = 0, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.SyncPending, now.UTC(), id, model.SyncFailed, model.SyncProcessing)
	if err != nil {
		return fmt.Errorf("requeueing sync item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeueing sync item %d: %w: not failed or processing", id, qsync.ErrNotFound)
	}
	return nil
}

func (s *SQLiteRegistry) GetSyncItem(ctx context.Context, id int64) (*model.SyncQueueItem, error) {
	it, err := scanQueueItem(s.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM quote_sync_queue WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting sync item: %w", err)
	}
	return it, nil
}

func (s *SQLiteRegistry) ListSyncItems(ctx context.Context, status string, limit int) ([]*model.SyncQueueItem, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + queueColumns + " FROM quote_sync_queue")
	var args []any
	if status != "" {
		sb.WriteString(" WHERE status = ?")
		args = append(args, status)
	}
	sb.WriteString(" ORDER BY created_at, id LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync items: %w", err)
	}
	defer rows.Close()

	var out []*model.SyncQueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Dead letter operations

func (s *SQLiteRegistry) InsertDeadLetter(ctx context.Context, e *model.DeadLetterEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_dlq (queue_item_id, quote_id, payload, error, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (queue_item_id) DO NOTHING`,
		e.QueueItemID, e.QuoteID, e.Payload, e.Error, e.Attempts, e.CreatedAt.UTC(), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

func (s *SQLiteRegistry) HasDeadLetter(ctx context.Context, queueItemID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM worker_dlq WHERE queue_item_id = ?", queueItemID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking dead letter: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteRegistry) ListDeadLetters(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue_item_id, quote_id, payload, error, attempts, created_at, updated_at
		FROM worker_dlq
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []*model.DeadLetterEntry
	for rows.Next() {
		var e model.DeadLetterEntry
		if err := rows.Scan(&e.ID, &e.QueueItemID, &e.QuoteID, &e.Payload, &e.Error, &e.Attempts,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Compile-time check that SQLiteRegistry implements qsync.Registry
var _ qsync.Registry = (*SQLiteRegistry)(nil)
