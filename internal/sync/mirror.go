package sync

import (
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/store"
)

const previewLen = 80

// mirror copies the confirmed messages among msgs into the search index
// and bumps the conversation row.
func (e *Engine) mirror(key chat.ConversationKey, msgs ...*chat.Message) {
	if e.index == nil {
		return
	}
	rows := make([]store.Message, 0, len(msgs))
	var last *chat.Message
	for _, m := range msgs {
		id, ok := m.ID()
		if !ok || id == "" {
			continue
		}
		rows = append(rows, indexRow(key, id, m))
		if last == nil || m.SentAt.After(last.SentAt) {
			last = m
		}
	}
	if len(rows) == 0 {
		return
	}
	if err := e.index.UpsertMessages(rows); err != nil {
		e.logger.Warn("index upsert failed", zap.String("conversation", key.String()), zap.Error(err))
		return
	}

	conv := &store.Conversation{Kind: string(key.Kind), ID: key.ID, Title: e.title(key)}
	if !last.SentAt.IsZero() {
		conv.LastMessageAt = last.SentAt.UnixMilli()
	}
	conv.LastMessagePreview = preview(last)
	if err := e.index.UpsertConversation(conv); err != nil {
		e.logger.Warn("index conversation upsert failed", zap.String("conversation", key.String()), zap.Error(err))
	}
}

// mirrorTitles refreshes the titles of indexed group conversations after
// the directory changed.
func (e *Engine) mirrorTitles() {
	if e.index == nil {
		return
	}
	for _, g := range e.dir.Groups() {
		if e.conv.Len(chat.GroupKey(g.ID)) == 0 {
			continue
		}
		conv := &store.Conversation{Kind: string(chat.Group), ID: g.ID, Title: g.Name}
		if err := e.index.UpsertConversation(conv); err != nil {
			e.logger.Warn("index title update failed", zap.String("group", g.ID), zap.Error(err))
		}
	}
}

func (e *Engine) title(key chat.ConversationKey) string {
	switch key.Kind {
	case chat.Group:
		if g, ok := e.dir.Group(key.ID); ok {
			return g.Name
		}
	case chat.Direct:
		if c, ok := e.dir.Contact(key.ID); ok && c.DisplayName != "" {
			return c.DisplayName
		}
		return key.ID
	}
	return ""
}

func indexRow(key chat.ConversationKey, id string, m *chat.Message) store.Message {
	row := store.Message{
		Kind:           string(key.Kind),
		ConversationID: key.ID,
		MsgID:          id,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		MessageType:    string(m.Type),
		Status:         string(m.Status),
		StatusRank:     m.Status.Rank(),
	}
	if !m.SentAt.IsZero() {
		row.SentAt = m.SentAt.UnixMilli()
	}
	if m.Media != nil {
		row.MediaURL = m.Media.URL
	}
	return row
}

func preview(m *chat.Message) string {
	if m.Content == "" && m.Type != chat.Text && m.Type != "" {
		return "[" + string(m.Type) + "]"
	}
	r := []rune(m.Content)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return m.Content
}
