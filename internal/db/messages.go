package db

import (
	"context"
	"database/sql"
	"time"
)

// maxAgentMessages bounds the agent_messages table.
const maxAgentMessages = 500

// AgentMessage is a row of the agent_messages mailbox shared by the
// foreground CLI and the background agent.
type AgentMessage struct {
	ID     int64
	Kind   string
	Origin string
	SentAt time.Time
}

// PostAgentMessage appends a message and prunes old ones.
func (db *DB) PostAgentMessage(ctx context.Context, kind, origin string) (int64, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.withWriteLock(ctx, func() error {
		res, err := conn.ExecContext(ctx,
			`INSERT INTO agent_messages (kind, origin, sent_at) VALUES (?, ?, ?)`,
			kind, origin, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx, `
			DELETE FROM agent_messages WHERE id NOT IN (
				SELECT id FROM agent_messages ORDER BY id DESC LIMIT ?
			)
		`, maxAgentMessages)
		return err
	})
	return id, err
}

// LatestAgentMessageID returns the newest message id, or 0 if the mailbox is empty.
func (db *DB) LatestAgentMessageID(ctx context.Context) (int64, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	var id sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT MAX(id) FROM agent_messages`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// GetAgentMessages returns messages of the given kind with id > afterID, oldest first.
func (db *DB) GetAgentMessages(ctx context.Context, kind string, afterID int64, limit int) ([]AgentMessage, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT id, kind, origin, sent_at FROM agent_messages
		WHERE kind = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, kind, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []AgentMessage
	for rows.Next() {
		var m AgentMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.Kind, &m.Origin, &ts); err != nil {
			return nil, err
		}
		if parsed, err := parseTimestamp(ts); err == nil {
			m.SentAt = parsed
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
