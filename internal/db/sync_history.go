package db

import (
	"context"
	"time"
)

// Sync history directions
const (
	DirectionPush    = "push"
	DirectionRefresh = "refresh"
)

// Sync history actions
const (
	ActionReplayed = "replayed"
	ActionRetry    = "retry"
	ActionLost     = "lost"
	ActionReplaced = "replaced"
	ActionFailed   = "failed"
)

// maxSyncHistoryRows bounds the sync_history table.
const maxSyncHistoryRows = 2000

// SyncHistoryEntry represents a row from the sync_history table.
type SyncHistoryEntry struct {
	ID         int64     `json:"id"`
	Direction  string    `json:"direction"` // "push" or "refresh"
	Action     string    `json:"action"`
	Collection string    `json:"collection,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339Nano, Value: s}
}

// RecordSyncHistory inserts entries and prunes the table to its bound.
// Returns nil if entries is empty.
func (db *DB) RecordSyncHistory(ctx context.Context, entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}

	return db.withWriteLock(ctx, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_history (direction, action, collection, entity_id, detail, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			ts := e.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, e.Direction, e.Action, e.Collection, e.EntityID, e.Detail, ts.UTC().Format(time.RFC3339Nano)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sync_history WHERE id NOT IN (
				SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
			)
		`, maxSyncHistoryRows); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetSyncHistoryTail returns the last N entries in chronological order (oldest first).
func (db *DB) GetSyncHistoryTail(ctx context.Context, limit int) ([]SyncHistoryEntry, error) {
	entries, err := db.querySyncHistory(ctx, `
		SELECT id, direction, action, collection, entity_id, detail, timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GetSyncHistory returns entries with id > afterID, ordered by id ASC, limited to limit.
// Used for follow-mode polling.
func (db *DB) GetSyncHistory(ctx context.Context, afterID int64, limit int) ([]SyncHistoryEntry, error) {
	return db.querySyncHistory(ctx, `
		SELECT id, direction, action, collection, entity_id, detail, timestamp
		FROM sync_history
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
}

func (db *DB) querySyncHistory(ctx context.Context, query string, args ...any) ([]SyncHistoryEntry, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Direction, &e.Action, &e.Collection, &e.EntityID, &e.Detail, &ts); err != nil {
			return nil, err
		}
		parsed, parseErr := parseTimestamp(ts)
		if parseErr != nil {
			return nil, parseErr
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
