// Package ledger provides an append-only history of notification deliveries
// and medication confirmations. Idempotency keys make delivery recording safe
// to repeat.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventTriggerDelivered    EventType = "trigger_delivered"
	EventMedicationConfirmed EventType = "medication_confirmed"
	EventConfirmFailed       EventType = "confirm_failed"
	EventSnoozed             EventType = "snoozed"
	EventDismissed           EventType = "dismissed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	AlarmID        string         `json:"alarm_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, alarmID string, payload map[string]any) error {
	_, err := l.insert(eventType, alarmID, "", payload)
	return err
}

// AppendOnce adds an event keyed by idempotencyKey. It reports false when an
// event of the same type and key was already recorded ("first writer wins").
func (l *Ledger) AppendOnce(eventType EventType, alarmID, idempotencyKey string, payload map[string]any) (bool, error) {
	if idempotencyKey == "" {
		return false, fmt.Errorf("idempotency key is required")
	}
	return l.insert(eventType, alarmID, idempotencyKey, payload)
}

func (l *Ledger) insert(eventType EventType, alarmID, idempotencyKey string, payload map[string]any) (bool, error) {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	// The unique partial index on (idempotency_key, event_type) turns keyed
	// duplicates into no-ops
	insertSQL := `INSERT INTO event_ledger (event_type, timestamp, alarm_id, payload, idempotency_key) VALUES (?, ?, ?, ?, ?)`
	if idempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO event_ledger (event_type, timestamp, alarm_id, payload, idempotency_key) VALUES (?, ?, ?, ?, ?)`
	}

	result, err := l.db.Exec(insertSQL, string(eventType), l.now().UTC().Unix(), alarmID, string(payloadJSON), idempotencyKey)
	if err != nil {
		return false, err
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Has checks if an event with the given type and idempotency key exists
func (l *Ledger) Has(eventType EventType, idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false // Empty key = no dedupe
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM event_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(eventType)).Scan(&exists)

	return err == nil && exists == 1
}

// Recent returns the newest entries, optionally filtered by alarm id
func (l *Ledger) Recent(alarmID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, event_type, timestamp, alarm_id, payload, idempotency_key
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	args := []any{limit}
	if alarmID != "" {
		query = `
		SELECT id, event_type, timestamp, alarm_id, payload, idempotency_key
		FROM event_ledger
		WHERE alarm_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
		args = []any{alarmID, limit}
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, alarmID, idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &alarmID, &payloadStr, &idempotencyKey,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if alarmID.Valid {
			entry.AlarmID = alarmID.String
		}
		if idempotencyKey.Valid {
			entry.IdempotencyKey = idempotencyKey.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
