// Package state provides SQLite-based run history for conveyor.
// The database lives under the data directory (default
// ~/.local/share/conveyor/conveyor.db) and records every run with its
// stages and matrix cells.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection. Writes take the write lock so the single
// connection is never shared between concurrent stage goroutines mid-write.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens the database at path, creating parent directories as needed.
// WAL mode keeps reads (status command) concurrent with run writes.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// migrations are applied in order; schema_version records the highest one.
var migrations = []struct {
	version int
	sql     string
}{
	{1, schemaRuns},
	{2, schemaStages},
	{3, schemaCells},
}

// Migrate brings the schema up to the current version.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.conn.QueryRow(
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.applyMigration(m.version, m.sql); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) applyMigration(version int, stmt string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmt); err != nil {
		return fmt.Errorf("apply migration v%d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("record migration v%d: %w", version, err)
	}
	return tx.Commit()
}

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	concurrency_group TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	event_type TEXT NOT NULL,
	branch TEXT,
	ref TEXT,
	tag TEXT,
	action TEXT,
	version TEXT,
	created_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_group ON runs(concurrency_group);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const schemaStages = `
CREATE TABLE IF NOT EXISTS stages (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	blocked_reason TEXT,
	started_at DATETIME,
	finished_at DATETIME,
	PRIMARY KEY (run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_stages_status ON stages(status);
`

const schemaCells = `
CREATE TABLE IF NOT EXISTS cells (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage TEXT NOT NULL,
	python TEXT NOT NULL,
	db TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT,
	PRIMARY KEY (run_id, stage, python, db)
);
`

// Exec runs a statement that returns no rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query runs a statement that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow runs a statement that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}
