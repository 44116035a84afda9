package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roomlink/roomlink/internal/chat"
)

// SaveMessage upserts one confirmed message into the room's cached backlog.
// Messages without a server id are skipped: they are still pending and have
// no stable identity to dedup on.
func (d *DB) SaveMessage(roomID string, m *chat.Message) error {
	if m.ServerID == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO messages
			(room_id, server_id, client_id, sender, user_id, text, image_url,
			 timestamp, from_ai, ai_name, questioner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, roomID, m.ServerID, m.ClientID, m.Sender, m.UserID, m.Text, m.ImageURL,
		m.Timestamp, boolToInt(m.FromAI), m.AIName, m.Questioner)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// SaveMessages upserts a fetched page in one transaction.
func (d *DB) SaveMessages(roomID string, msgs []*chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO messages
			(room_id, server_id, client_id, sender, user_id, text, image_url,
			 timestamp, from_ai, ai_name, questioner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	for _, m := range msgs {
		if m.ServerID == "" {
			continue
		}
		if _, err := stmt.Exec(roomID, m.ServerID, m.ClientID, m.Sender, m.UserID,
			m.Text, m.ImageURL, m.Timestamp, boolToInt(m.FromAI), m.AIName, m.Questioner); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("save page: %w", err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// Count returns the number of cached messages for a room.
func (d *DB) Count(ctx context.Context, roomID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// FetchPage reads up to limit cached messages starting at offset from the
// oldest. It mirrors the server's paging contract so the pager can swap the
// cache in for the HTTP source without translation.
func (d *DB) FetchPage(ctx context.Context, roomID string, limit, offset int) ([]*chat.Message, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT server_id, client_id, sender, user_id, text, image_url,
		       timestamp, from_ai, ai_name, questioner
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp, server_id
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		var m chat.Message
		var fromAI int
		if err := rows.Scan(&m.ServerID, &m.ClientID, &m.Sender, &m.UserID,
			&m.Text, &m.ImageURL, &m.Timestamp, &fromAI, &m.AIName, &m.Questioner); err != nil {
			return nil, 0, err
		}
		m.FromAI = fromAI != 0
		msgs = append(msgs, &m)
	}
	return msgs, total, rows.Err()
}

// OffsetOf returns the offset (from the oldest message) of the page that
// contains the given message, aligned to pageSize boundaries.
func (d *DB) OffsetOf(ctx context.Context, roomID, messageID string, pageSize int) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ts int64
	err := d.db.QueryRowContext(ctx,
		`SELECT timestamp FROM messages WHERE room_id = ? AND server_id = ?`,
		roomID, messageID).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("message %s not cached", messageID)
	}
	if err != nil {
		return 0, fmt.Errorf("locate message: %w", err)
	}

	var before int
	if err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND (timestamp < ? OR (timestamp = ? AND server_id < ?))
	`, roomID, ts, ts, messageID).Scan(&before); err != nil {
		return 0, fmt.Errorf("locate message: %w", err)
	}

	if pageSize <= 0 {
		return before, nil
	}
	return (before / pageSize) * pageSize, nil
}

// PruneRoom drops a room's cached backlog.
func (d *DB) PruneRoom(roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
