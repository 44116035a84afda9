// Package storage keeps a local SQLite copy of each room's message backlog
// so history paging keeps working when the server is unreachable. The cache
// is write-through: confirmed live messages and fetched pages land here, and
// the pager falls back to it when an HTTP fetch fails.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle behind the backlog cache.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the backlog database at the given path, creating
// parent directories as needed.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent read during live writes
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	// One row per confirmed message. server_id is the dedup key; pending
	// messages never reach the cache.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			room_id    TEXT NOT NULL,
			server_id  TEXT NOT NULL,
			client_id  TEXT DEFAULT '',
			sender     TEXT DEFAULT '',
			user_id    TEXT DEFAULT '',
			text       TEXT DEFAULT '',
			image_url  TEXT DEFAULT '',
			timestamp  INTEGER NOT NULL,
			from_ai    INTEGER DEFAULT 0,
			ai_name    TEXT DEFAULT '',
			questioner TEXT DEFAULT '',
			PRIMARY KEY (room_id, server_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_room_ts
		ON messages (room_id, timestamp, server_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages index: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}
