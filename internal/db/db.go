// Package db provides the local SQLite connection and schema for pilld.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Pending notification requests - the live trigger set
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notification_requests (
			id TEXT PRIMARY KEY,
			alarm_id TEXT NOT NULL,
			content TEXT NOT NULL,
			trigger_spec TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_requests_alarm ON notification_requests(alarm_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create notification_requests table: %w", err)
	}

	// Delivered notifications - shown to the user until acted upon or removed
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS delivered_notifications (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			alarm_id TEXT NOT NULL,
			content TEXT NOT NULL,
			delivered_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_delivered_request ON delivered_notifications(request_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create delivered_notifications table: %w", err)
	}

	// Event ledger - append-only history of deliveries, confirmations and snoozes
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			alarm_id TEXT,
			payload TEXT,
			idempotency_key TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_alarm ON event_ledger(alarm_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_ledger table: %w", err)
	}

	// Unique partial index: a trigger occurrence is delivered at most once
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
		ON event_ledger(idempotency_key, event_type)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_idempotency index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
