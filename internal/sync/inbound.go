package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/ledger"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Group update tags that can remove the group from the user's view.
const (
	tagRemovedFromGroup = "REMOVED_FROM_GROUP"
	tagGroupDeleted     = "GROUP_DELETED"
)

func (e *Engine) onDirect(body []byte) {
	m, err := wire.DecodeDirect(string(wire.ChannelMessages), body)
	if err != nil {
		e.logger.Warn("dropping frame", zap.Error(err))
		return
	}
	e.reconcile(m)
	e.refreshContacts(nil)

	self := e.creds.Username
	if m.SenderID != self && e.focus == chat.DirectKey(m.SenderID) {
		e.sendRead(m.SenderID)
		if e.dir.ZeroContact(m.SenderID) {
			e.emit(bus.KindContacts, DirectoryUpdate{Count: len(e.dir.Contacts()), Local: true})
		}
	}
}

func (e *Engine) onGroup(body []byte) {
	m, err := wire.DecodeGroup(string(wire.ChannelGroupMessages), body)
	if err != nil {
		e.logger.Warn("dropping frame", zap.Error(err))
		return
	}
	e.reconcile(m)

	if m.SenderID != e.creds.Username && e.focus != chat.GroupKey(m.GroupID) {
		if e.dir.IncrementGroup(m.GroupID) {
			e.emit(bus.KindGroups, DirectoryUpdate{Count: len(e.dir.Groups()), Local: true})
		}
	}
	e.refreshGroups(nil)
}

func (e *Engine) onStatus(body []byte) {
	su, err := wire.DecodeStatus(string(wire.ChannelStatus), body)
	if err != nil {
		e.logger.Warn("dropping frame", zap.Error(err))
		return
	}
	st := chat.Status(su.Status)
	u := ledger.Update{
		ID:          su.TargetID(),
		SenderID:    su.SenderID,
		RecipientID: su.RecipientID,
		Status:      st,
		At:          statusTime(su, st, e.now()),
	}
	changed := e.ledger.Apply(u)
	if len(changed) == 0 {
		return
	}

	byKey := make(map[chat.ConversationKey][]*chat.Message)
	for _, m := range changed {
		k := m.Key(e.creds.Username)
		byKey[k] = append(byKey[k], m)
	}
	for k, msgs := range byKey {
		e.mirror(k, msgs...)
		e.emit(bus.KindConversationUpdated, ConversationUpdate{Key: k, Reason: "status"})
	}
}

func statusTime(su *wire.StatusUpdate, st chat.Status, now time.Time) time.Time {
	if st == chat.StatusRead {
		return su.ReadAt(now)
	}
	if t := wire.ParseTime(su.DeliveredTimestamp); !t.IsZero() {
		return t
	}
	if t := wire.ParseTime(su.Timestamp); !t.IsZero() {
		return t
	}
	return now
}

func (e *Engine) onGroupUpdate(body []byte) {
	gu, err := wire.DecodeGroupUpdate(string(wire.ChannelGroupUpdates), body)
	if err != nil {
		e.logger.Warn("dropping frame", zap.Error(err))
		return
	}
	e.logger.Info("group update", zap.String("type", gu.Type), zap.String("group", gu.GroupID.String()))

	switch gu.Type {
	case tagRemovedFromGroup, tagGroupDeleted:
		if gu.GroupID != "" && e.focus == chat.GroupKey(gu.GroupID.String()) {
			e.setFocus(chat.ConversationKey{})
		}
	}
	e.refreshGroups(nil)
}

func (e *Engine) onPublic(body []byte) {
	pe, err := wire.DecodePublic(string(wire.ChannelPublic), body)
	if err != nil {
		e.logger.Warn("dropping frame", zap.Error(err))
		return
	}
	e.logger.Debug("public event", zap.String("user", pe.Username), zap.String("status", pe.Status))
	e.refreshContacts(nil)
}

// reconcile places a confirmed message in its conversation, mirrors it to
// the index and tells observers.
func (e *Engine) reconcile(m *chat.Message) {
	outcome, key := e.conv.Reconcile(m)
	if m.Kind == chat.Direct {
		if id, ok := m.ID(); ok {
			e.ledger.Settle(id)
			if live, found := e.conv.FindDirect(id); found {
				m = live
			}
		}
	}
	e.mirror(key, m)
	e.emit(bus.KindConversationUpdated, ConversationUpdate{Key: key, Reason: outcome.String()})
}

// sendRead tells peer that every message it sent to the local user was read.
func (e *Engine) sendRead(peer string) {
	sess := e.session
	if sess == nil || !sess.Connected() {
		return
	}
	note := wire.ReadNotification{SenderID: peer, RecipientID: e.creds.Username}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
		defer cancel()
		if err := sess.Publish(ctx, wire.DestRead, note); err != nil {
			e.logger.Warn("read notification not sent", zap.String("peer", peer), zap.Error(err))
		}
	}()
}
