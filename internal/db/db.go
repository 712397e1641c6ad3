package db

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const ftsSchemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	id UNINDEXED,
	content,
	contact_id UNINDEXED,
	platform UNINDEXED,
	sender_id UNINDEXED,
	channel_id UNINDEXED,
	timestamp UNINDEXED
)`

// Open opens (creating if needed) the contact database at path and ensures
// the schema exists. The second return reports whether the FTS5 message
// mirror is available: a sqlite build without FTS5 is not an error, callers
// fall back to substring search.
func Open(path string) (*sql.DB, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas for performance + concurrency.
	// WAL allows concurrent readers while a writer is active.
	// busy_timeout reduces SQLITE_BUSY errors under contention.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to set synchronous: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to create schema: %w", err)
	}

	// Probe for FTS5. Failure here is a capability miss, not an open failure.
	ftsAvailable := true
	if _, err := db.Exec(ftsSchemaSQL); err != nil {
		ftsAvailable = false
	}

	return db, ftsAvailable, nil
}
