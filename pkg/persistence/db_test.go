package persistence

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenMigratesToCurrentVersion(t *testing.T) {
	db := openTestDB(t)

	version, err := GetSchemaVersion(db.DB)
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("version = %d, want %d", version, CurrentSchemaVersion)
	}

	for _, table := range []string{"fix_memory", "generations", "query_cache", "knowledge_docs", "videos", "scenes"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || mode != "wal" {
		t.Errorf("journal_mode = %q, %v", mode, err)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	_ = db.Close()
}

func TestWriterDrainsOnClose(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, 4)

	for i := 0; i < 10; i++ {
		err := w.Submit(Request{Name: "insert", Exec: func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, `INSERT INTO generations (description, code) VALUES ('d', 'c')`)
			return err
		}})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	_ = w.Submit(Request{Name: "broken", Exec: func(context.Context, *sql.DB) error { return errors.New("boom") }})
	w.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM generations`).Scan(&n); err != nil || n != 10 {
		t.Errorf("rows = %d, %v", n, err)
	}
	if err := w.Submit(Request{}); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}
