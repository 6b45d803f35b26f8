package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	up := ExtractUpMigration(content)
	if !strings.Contains(up, "CREATE TABLE a") {
		t.Fatalf("expected up section, got %q", up)
	}
	if strings.Contains(up, "DROP TABLE") {
		t.Fatalf("down section leaked into up: %q", up)
	}
	if got := ExtractUpMigration("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("expected passthrough without markers, got %q", got)
	}
}

func TestOpenSQLiteAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "admission.db")

	db, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := MigrateSQLite(ctx, db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", applied)
	}

	for _, table := range []string{"events", "event_tables", "registrations", "bans", "ban_event_ledger", "ban_event_exposure", "promotion_queue"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
	var version int
	if _, err := db.ExecContext(ctx,
		`INSERT INTO events (id, name, event_type, created_at) VALUES ('e1', 'x', 'CAPACITY_BASED', 0)`); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO promotion_queue (event_id, enqueued_at) VALUES ('e1', 0)`); err != nil {
		t.Fatalf("insert outbox row: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT version FROM promotion_queue WHERE event_id = 'e1'`).Scan(&version); err != nil {
		t.Fatalf("read outbox version: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected default outbox version 0, got %d", version)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
