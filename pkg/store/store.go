// Package store persists articles and fetch-cycle audit records in SQLite.
// Articles are deduplicated by an identity key derived from the normalized
// canonical URL; the audit log keeps one immutable record per fetch cycle.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// migrate applies the schema. Statements are idempotent.
func migrate(conn *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_key TEXT NOT NULL UNIQUE,
			entity_id TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			image_url TEXT,
			source TEXT,
			published_at TIMESTAMP,
			collected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_entity ON articles(entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC)`,
		`CREATE TABLE IF NOT EXISTS fetch_logs (
			id TEXT PRIMARY KEY,
			fetched_at TIMESTAMP NOT NULL,
			next_due_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			api_calls INTEGER NOT NULL DEFAULT 0,
			duplicates INTEGER NOT NULL DEFAULT 0,
			new_items INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			rate_remaining INTEGER,
			rate_reset_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_logs_fetched ON fetch_logs(fetched_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_logs_status ON fetch_logs(status)`,
	}

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
