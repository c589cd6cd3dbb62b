package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version produced by migrate.
const CurrentSchemaVersion = 3

// migrations[i] upgrades the schema from version i to i+1.
//
//nolint:gochecknoglobals // ordered migration table
var migrations = [][]string{
	// 1: fix memory, generation examples and the query cache.
	{
		`CREATE TABLE IF NOT EXISTS fix_memory (
			signature TEXT PRIMARY KEY,
			error_message TEXT NOT NULL,
			original_code TEXT NOT NULL,
			fixed_code TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			scene_category TEXT NOT NULL DEFAULT 'general',
			method TEXT NOT NULL DEFAULT '',
			success_count INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fix_memory_topic ON fix_memory(topic, scene_category)`,
		`CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			description TEXT NOT NULL,
			code TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			scene_category TEXT NOT NULL DEFAULT 'general',
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS query_cache (
			topic TEXT NOT NULL,
			scene_index INTEGER NOT NULL,
			mode TEXT NOT NULL,
			queries TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (topic, scene_index, mode)
		)`,
	},
	// 2: full-text knowledge corpus.
	{
		`CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_docs USING fts5(
			title, body, tags, source UNINDEXED
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_sources (
			source TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			loaded_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	},
	// 3: external video and scene records.
	{
		`CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			scene_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'queued'
				CHECK (status IN ('queued','planning','rendering','completed','failed')),
			combined_url TEXT,
			error TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS scenes (
			video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			scene_index INTEGER NOT NULL,
			trace_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			video_url TEXT,
			error TEXT,
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (video_id, scene_index)
		)`,
	},
}

func migrate(db *sql.DB) error {
	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, CurrentSchemaVersion)
	}
	for version := current; version < CurrentSchemaVersion; version++ {
		if err := runMigration(db, version+1, migrations[version]); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version+1, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int, stmts []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", stmt, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
