package store

import (
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (kind, conv_id, msg_id, sender_id, sender_name, content, message_type, media_url, status, status_rank, sent_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind, msg_id) DO UPDATE SET
		media_url = CASE WHEN excluded.media_url != '' THEN excluded.media_url ELSE messages.media_url END,
		status = CASE WHEN excluded.status_rank > messages.status_rank THEN excluded.status ELSE messages.status END,
		status_rank = MAX(messages.status_rank, excluded.status_rank)`

// UpsertMessage indexes a message, idempotent on kind + msg_id. Status only
// moves forward.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.Kind, m.ConversationID, m.MsgID, m.SenderID, m.SenderName, m.Content,
		m.MessageType, m.MediaURL, m.Status, m.StatusRank, m.SentAt, time.Now().UnixMilli())
	return err
}

// UpsertMessages indexes a batch in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			m.Kind, m.ConversationID, m.MsgID, m.SenderID, m.SenderName, m.Content,
			m.MessageType, m.MediaURL, m.Status, m.StatusRank, m.SentAt, now); err != nil {
			return fmt.Errorf("upsert message %s/%s: %w", m.Kind, m.MsgID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the newest messages of a conversation, oldest first.
func (db *DB) ListMessages(kind, convID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT kind, conv_id, msg_id, sender_id, sender_name, content, message_type, media_url, status, status_rank, sent_at
		FROM (
			SELECT * FROM messages
			WHERE kind = ? AND conv_id = ?
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		) ORDER BY sent_at ASC, id ASC`, kind, convID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Kind, &m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Content,
			&m.MessageType, &m.MediaURL, &m.Status, &m.StatusRank, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of indexed messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
