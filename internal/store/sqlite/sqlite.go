// Package sqlite provides a single-node record store backed by SQLite.
// It implements the same consumer interfaces as the PostgreSQL store and is
// meant for small deployments and local development, where running a
// database server is more trouble than it is worth.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_time TIMESTAMP NOT NULL,
    attributes TEXT NOT NULL DEFAULT '{}',
    received_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_type_time
    ON events (user_id, event_type, event_time);

CREATE TABLE IF NOT EXISTS journeys (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_time TIMESTAMP NOT NULL,
    attributes TEXT NOT NULL DEFAULT '{}',
    deadline TIMESTAMP NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journeys_user_open
    ON journeys (user_id, event_type) WHERE resolved = 0;

CREATE INDEX IF NOT EXISTS idx_journeys_due
    ON journeys (deadline) WHERE resolved = 0;

CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    cohort TEXT NOT NULL,
    timing TEXT NOT NULL,
    channel TEXT NOT NULL,
    lever TEXT NOT NULL,
    offer TEXT NOT NULL,
    tone TEXT NOT NULL,
    message TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    sent_at TIMESTAMP,
    opened_at TIMESTAMP,
    converted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_experiments_user_cohort
    ON experiments (user_id, cohort, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_experiments_user_status
    ON experiments (user_id, status, created_at DESC);

CREATE TABLE IF NOT EXISTS scheduled_sends (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL REFERENCES experiments (id),
    user_id TEXT NOT NULL,
    send_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_attempt_at TIMESTAMP NOT NULL,
    delivered_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sends_due
    ON scheduled_sends (next_attempt_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS combo_stats (
    combo_key TEXT PRIMARY KEY,
    timing TEXT NOT NULL,
    channel TEXT NOT NULL,
    lever TEXT NOT NULL,
    offer TEXT NOT NULL,
    sent_count INTEGER NOT NULL DEFAULT 0,
    converted_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

// Open creates or opens a SQLite database at the given path and applies
// pragmas and schema. Use ":memory:" for an in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY errors under concurrent loop components.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB, used for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}
