package sync

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Draft is an outbound message before it gets a correlation key.
type Draft struct {
	Key     chat.ConversationKey
	Content string
	Media   *chat.Media
	Type    chat.MessageType
}

// Send sends a text message to peer.
func (e *Engine) Send(ctx context.Context, peer, content string) (*chat.Message, error) {
	return e.SendDraft(ctx, Draft{Key: chat.DirectKey(peer), Content: content, Type: chat.Text})
}

// SendGroup sends a text message to a group.
func (e *Engine) SendGroup(ctx context.Context, groupID, content string) (*chat.Message, error) {
	return e.SendDraft(ctx, Draft{Key: chat.GroupKey(groupID), Content: content, Type: chat.Text})
}

// SendMedia uploads r and sends it to key with an optional caption. An
// upload failure returns *chat.UploadError and creates no message.
func (e *Engine) SendMedia(ctx context.Context, key chat.ConversationKey, fileName string, r io.Reader, caption string) (*chat.Message, error) {
	api, err := call(ctx, e, func() (Backend, error) {
		if err := e.connected(); err != nil {
			return nil, err
		}
		return e.api, nil
	})
	if err != nil {
		return nil, err
	}

	media, typ, err := api.Upload(ctx, fileName, r)
	if err != nil {
		e.logger.Warn("upload failed", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}
	return e.SendDraft(ctx, Draft{Key: key, Content: caption, Media: media, Type: typ})
}

// SendDraft inserts d as a pending message and publishes it. Once the
// transport has taken it the entry is SENT but stays pending until the
// server echo confirms it. Nothing is inserted when the session is not
// connected. A failed publish removes the pending message again and is
// reported on the bus.
func (e *Engine) SendDraft(ctx context.Context, d Draft) (*chat.Message, error) {
	if d.Key.ID == "" {
		return nil, errors.New("recipient is required")
	}
	if d.Content == "" && d.Media == nil {
		return nil, errors.New("empty message")
	}
	if d.Type == "" {
		d.Type = chat.Text
	}

	type prepared struct {
		msg  *chat.Message
		sess Session
		gen  uint64
	}
	p, err := call(ctx, e, func() (prepared, error) {
		if err := e.connected(); err != nil {
			return prepared{}, err
		}
		m := &chat.Message{
			CorrelationKey: uuid.NewString(),
			Kind:           d.Key.Kind,
			SenderID:       e.creds.Username,
			SenderName:     e.creds.FullName,
			Content:        d.Content,
			Media:          d.Media,
			Type:           d.Type,
			SentAt:         e.now(),
		}
		switch d.Key.Kind {
		case chat.Group:
			m.GroupID = d.Key.ID
		default:
			m.Kind = chat.Direct
			m.RecipientID = d.Key.ID
		}
		if !e.conv.InsertPending(m) {
			return prepared{}, errors.New("duplicate correlation key")
		}
		e.emit(bus.KindConversationUpdated, ConversationUpdate{Key: d.Key, Reason: "pending"})
		m.Ref = chat.PendingRef{Key: m.CorrelationKey}
		m.Status = chat.StatusPending
		return prepared{msg: m, sess: e.session, gen: e.gen}, nil
	})
	if err != nil {
		return nil, err
	}

	m := p.msg
	dest, payload, target := wire.DestChat, any(wire.NewDirect(m)), refreshContacts
	if m.Kind == chat.Group {
		dest, payload, target = wire.DestGroupChat, wire.NewGroup(m), refreshGroups
	}

	if err := p.sess.Publish(ctx, dest, payload); err != nil {
		e.post(func() {
			if p.gen != e.gen {
				return
			}
			if e.conv.RemovePending(d.Key, m.CorrelationKey) {
				e.emit(bus.KindConversationUpdated, ConversationUpdate{Key: d.Key, Reason: "removed"})
			}
			e.emit(bus.KindSendFailed, SendFailure{Key: d.Key, CorrelationKey: m.CorrelationKey, Err: err.Error()})
		})
		e.logger.Warn("send failed", zap.String("conversation", d.Key.String()), zap.Error(err))
		return nil, err
	}

	e.post(func() {
		if p.gen != e.gen {
			return
		}
		if e.conv.MarkSent(d.Key, m.CorrelationKey) {
			e.emit(bus.KindConversationUpdated, ConversationUpdate{Key: d.Key, Reason: "sent"})
		}
		e.deferRefresh(target)
	})
	m.Status = chat.StatusSent
	return m, nil
}
