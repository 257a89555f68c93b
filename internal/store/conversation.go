package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertConversation records conversation metadata. An empty title keeps
// the stored one.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (kind, conv_id, title, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, conv_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				AND excluded.last_message_preview != ''
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.Kind, c.ID, c.Title, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListConversations returns conversations by most recent message first.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT kind, conv_id, COALESCE(NULLIF(title, ''), conv_id), last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Kind, &c.ID, &c.Title, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one conversation, or nil if it is unknown.
func (db *DB) GetConversation(kind, id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT kind, conv_id, COALESCE(NULLIF(title, ''), conv_id), last_message_at, last_message_preview
		FROM conversations WHERE kind = ? AND conv_id = ?`, kind, id).
		Scan(&c.Kind, &c.ID, &c.Title, &c.LastMessageAt, &c.LastMessagePreview)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConversationCount returns the number of indexed conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
