// Package ledger tracks the delivery state of direct messages.
//
// Status only moves forward: PENDING < SENT < DELIVERED < READ. Updates that
// would move a message backwards are ignored, so late or reordered status
// frames are harmless.
package ledger

import (
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Update is one inbound status change. ID is empty for a bulk read, in
// which case SenderID and RecipientID name the pair.
type Update struct {
	ID          string
	SenderID    string
	RecipientID string
	Status      chat.Status
	At          time.Time
}

// Bulk reports whether the update addresses a pair instead of one message.
func (u Update) Bulk() bool {
	return u.ID == ""
}

// Index is the view of the conversation store the ledger needs. Returned
// messages are live; the ledger mutates them in place.
type Index interface {
	FindDirect(id string) (*chat.Message, bool)
	DirectPair(senderID, recipientID string) []*chat.Message
}

// MaxEarly bounds the updates held for ids the index does not know yet.
const MaxEarly = 256

// Ledger applies status updates to the messages of an Index.
//
// A status frame can overtake the confirmation of its message. An update
// for an unknown id is held until Settle sees the id; past MaxEarly held
// updates the oldest is dropped.
type Ledger struct {
	index Index
	early map[string]Update
	order []string
}

// New returns a ledger over idx.
func New(idx Index) *Ledger {
	return &Ledger{index: idx, early: make(map[string]Update)}
}

// Apply applies u and returns the messages whose status changed.
func (l *Ledger) Apply(u Update) []*chat.Message {
	if !u.Status.Valid() {
		return nil
	}

	if !u.Bulk() {
		m, ok := l.index.FindDirect(u.ID)
		if !ok {
			l.hold(u)
			return nil
		}
		if !Advance(m, u.Status, u.At) {
			return nil
		}
		return []*chat.Message{m}
	}

	// A bulk update without an id only has meaning as a read receipt.
	if u.Status != chat.StatusRead || u.SenderID == "" || u.RecipientID == "" {
		return nil
	}
	var changed []*chat.Message
	for _, m := range l.index.DirectPair(u.SenderID, u.RecipientID) {
		if Advance(m, chat.StatusRead, u.At) {
			changed = append(changed, m)
		}
	}
	return changed
}

// Settle applies the update held for id, if any, now that the index knows
// the message. It returns the message when its status changed.
func (l *Ledger) Settle(id string) (*chat.Message, bool) {
	u, ok := l.early[id]
	if !ok {
		return nil, false
	}
	m, found := l.index.FindDirect(id)
	if !found {
		return nil, false
	}
	l.drop(id)
	return m, Advance(m, u.Status, u.At)
}

// Reset drops every held update.
func (l *Ledger) Reset() {
	l.early = make(map[string]Update)
	l.order = nil
}

func (l *Ledger) hold(u Update) {
	if prev, ok := l.early[u.ID]; ok {
		if prev.Status.Before(u.Status) {
			l.early[u.ID] = u
		}
		return
	}
	l.early[u.ID] = u
	l.order = append(l.order, u.ID)
	if len(l.order) > MaxEarly {
		delete(l.early, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *Ledger) drop(id string) {
	delete(l.early, id)
	if i := slices.Index(l.order, id); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}
}

// Advance moves m to status s if s is later than its current status and
// stamps the matching timestamp. It reports whether m changed.
func Advance(m *chat.Message, s chat.Status, at time.Time) bool {
	if !s.Valid() || !m.Status.Before(s) {
		return false
	}
	m.Status = s
	switch s {
	case chat.StatusDelivered:
		if m.DeliveredAt.IsZero() {
			m.DeliveredAt = at
		}
	case chat.StatusRead:
		if m.ReadAt.IsZero() {
			m.ReadAt = at
		}
	}
	return true
}
