package database

import (
	"context"
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	schema, err := Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}

	for _, want := range []string{
		"CREATE TABLE files",
		"CREATE TABLE file_versions",
		"CREATE TABLE file_previews",
		"CREATE TABLE attachments",
		"CREATE TABLE quote_sync_queue",
		"CREATE TABLE worker_dlq",
		"CREATE INDEX idx_quote_sync_queue_status",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("schema includes the migration table")
	}

	lastTable := strings.LastIndex(schema, "CREATE TABLE")
	firstIndex := strings.Index(schema, "CREATE INDEX")
	if firstIndex < lastTable {
		t.Error("indexes are not listed after tables")
	}
}
