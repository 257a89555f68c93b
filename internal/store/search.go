package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds indexed messages whose content contains query,
// case-insensitively, newest first. kind and convID narrow the search to
// one conversation when both are set.
func (db *DB) SearchMessages(query, kind, convID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := `
		SELECT m.kind, m.conv_id, m.msg_id, m.sender_id, m.sender_name, m.content,
		       m.message_type, m.media_url, m.status, m.status_rank, m.sent_at,
		       COALESCE(NULLIF(c.title, ''), m.conv_id)
		FROM messages m
		LEFT JOIN conversations c ON c.kind = m.kind AND c.conv_id = m.conv_id
		WHERE m.content LIKE ? ESCAPE '\'`

	args := []any{"%" + escapeLike(query) + "%"}
	if kind != "" && convID != "" {
		q += " AND m.kind = ? AND m.conv_id = ?"
		args = append(args, kind, convID)
	}
	q += " ORDER BY m.sent_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.Kind, &r.Message.ConversationID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.Content,
			&r.Message.MessageType, &r.Message.MediaURL, &r.Message.Status,
			&r.Message.StatusRank, &r.Message.SentAt, &r.Title,
		); err != nil {
			return nil, err
		}
		r.Snippet = snippet(r.Message.Content, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match of query in content with << >> and trims
// the text around it.
func snippet(content, query string) string {
	i := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if i < 0 {
		return content
	}
	end := min(i+len(query), len(content))

	start := i
	for n := 0; start > 0 && n < snippetRadius; n++ {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		start -= size
	}
	stop := end
	for n := 0; stop < len(content) && n < snippetRadius; n++ {
		_, size := utf8.DecodeRuneInString(content[stop:])
		stop += size
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(content[start:i])
	b.WriteString("<<")
	b.WriteString(content[i:end])
	b.WriteString(">>")
	b.WriteString(content[end:stop])
	if stop < len(content) {
		b.WriteString("...")
	}
	return b.String()
}
