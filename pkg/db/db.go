package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			project TEXT,
			status TEXT NOT NULL DEFAULT 'draft',
			source_script TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS beats (
			session_id TEXT NOT NULL,
			beat_id TEXT NOT NULL,
			ord INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT,
			character TEXT,
			combined_script TEXT,
			direction TEXT,
			pace TEXT,
			pause_after_ms INTEGER DEFAULT 0,
			override TEXT,
			lines TEXT,
			PRIMARY KEY (session_id, beat_id),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS takes (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			beat_id TEXT NOT NULL,
			path TEXT,
			format TEXT,
			duration_ms INTEGER DEFAULT 0,
			stability REAL,
			similarity REAL,
			style REAL,
			speed REAL,
			direction TEXT,
			is_selected BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_takes_beat ON takes(session_id, beat_id);`,
		`CREATE TABLE IF NOT EXISTS voice_profiles (
			character TEXT PRIMARY KEY,
			voice_id TEXT NOT NULL,
			display_name TEXT,
			description TEXT,
			stability REAL,
			similarity REAL,
			style REAL,
			speed REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	return nil
}
