// Package conversation holds the ordered message list of every direct and
// group conversation and reconciles optimistic messages with their server
// confirmations.
//
// A Store is not safe for concurrent use. The sync engine owns it and only
// touches it from its event loop.
package conversation

import (
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/ledger"
)

// Outcome says how Reconcile placed a confirmed message.
type Outcome int

const (
	// Merged means a message with the same server id already existed.
	Merged Outcome = iota
	// Replaced means a pending message was swapped for the confirmation.
	Replaced
	// Appended means the message was new.
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Merged:
		return "merged"
	case Replaced:
		return "replaced"
	default:
		return "appended"
	}
}

type idKey struct {
	kind chat.Kind
	id   string
}

// Store keeps messages in arrival order per conversation.
type Store struct {
	self  string
	convs map[chat.ConversationKey][]*chat.Message
	byID  map[idKey]*chat.Message
}

// NewStore returns an empty store for the local user self.
func NewStore(self string) *Store {
	return &Store{
		self:  self,
		convs: make(map[chat.ConversationKey][]*chat.Message),
		byID:  make(map[idKey]*chat.Message),
	}
}

// Self returns the local username the store keys direct conversations by.
func (s *Store) Self() string {
	return s.self
}

// Reset drops every conversation and rebinds the store to self.
func (s *Store) Reset(self string) {
	s.self = self
	s.convs = make(map[chat.ConversationKey][]*chat.Message)
	s.byID = make(map[idKey]*chat.Message)
}

// Messages returns a copy of the conversation in arrival order.
func (s *Store) Messages(key chat.ConversationKey) []*chat.Message {
	msgs := s.convs[key]
	out := make([]*chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages in a conversation.
func (s *Store) Len(key chat.ConversationKey) int {
	return len(s.convs[key])
}

// InsertPending appends an optimistic message. It returns false if a
// pending message with the same correlation key is already present.
func (s *Store) InsertPending(m *chat.Message) bool {
	key := m.Key(s.self)
	for _, existing := range s.convs[key] {
		if existing.Pending() && existing.CorrelationKey == m.CorrelationKey {
			return false
		}
	}
	m = m.Clone()
	m.Ref = chat.PendingRef{Key: m.CorrelationKey}
	m.Status = chat.StatusPending
	s.convs[key] = append(s.convs[key], m)
	return true
}

// RemovePending drops the optimistic message with correlationKey from the
// conversation. It reports whether one was found.
func (s *Store) RemovePending(key chat.ConversationKey, correlationKey string) bool {
	msgs := s.convs[key]
	for i, m := range msgs {
		if m.Pending() && m.CorrelationKey == correlationKey {
			s.convs[key] = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

// MarkSent moves the pending entry with correlationKey to SENT once the
// transport accepted it. The entry stays pending until its confirmation
// arrives. It reports whether the entry changed.
func (s *Store) MarkSent(key chat.ConversationKey, correlationKey string) bool {
	for _, m := range s.convs[key] {
		if m.Pending() && m.CorrelationKey == correlationKey {
			return ledger.Advance(m, chat.StatusSent, time.Time{})
		}
	}
	return false
}

// Reconcile places a server-confirmed message. A known server id is merged,
// a matching pending entry is replaced in place, anything else is appended.
func (s *Store) Reconcile(m *chat.Message) (Outcome, chat.ConversationKey) {
	key := m.Key(s.self)

	if id, ok := m.ID(); ok && id != "" {
		if existing, found := s.byID[idKey{m.Kind, id}]; found {
			merge(existing, m)
			s.dropConfirmed(key, existing, m.CorrelationKey)
			return Merged, key
		}
	}

	m = m.Clone()
	if m.Status.Before(chat.StatusSent) {
		m.Status = chat.StatusSent
	}

	msgs := s.convs[key]
	if i := pendingMatch(msgs, m, nil, false); i >= 0 {
		if m.CorrelationKey == "" {
			m.CorrelationKey = msgs[i].CorrelationKey
		}
		carry(m, msgs[i])
		msgs[i] = m
		s.index(m)
		return Replaced, key
	}

	s.convs[key] = append(msgs, m)
	s.index(m)
	return Appended, key
}

// MergeHistory applies an authoritative fetch of one conversation. The
// result is the fetched messages in fetch order, each carrying the later
// status of its fetched and known copies, followed by the known messages the
// fetch did not contain. Pending entries the fetch confirms are dropped.
// Other conversations are untouched.
func (s *Store) MergeHistory(key chat.ConversationKey, fetched []*chat.Message) {
	existing := s.convs[key]
	merged := make([]*chat.Message, 0, len(fetched)+len(existing))
	seen := make(map[string]bool, len(fetched))
	absorbed := make(map[*chat.Message]bool)

	for _, f := range fetched {
		id, ok := f.ID()
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if known, found := s.byID[idKey{f.Kind, id}]; found {
			merge(known, f)
			merged = append(merged, known)
			continue
		}

		m := f.Clone()
		if m.Status.Before(chat.StatusSent) {
			m.Status = chat.StatusSent
		}
		if i := pendingMatch(existing, m, absorbed, true); i >= 0 {
			absorbed[existing[i]] = true
			if m.CorrelationKey == "" {
				m.CorrelationKey = existing[i].CorrelationKey
			}
			carry(m, existing[i])
		}
		s.index(m)
		merged = append(merged, m)
	}

	for _, m := range existing {
		if absorbed[m] {
			continue
		}
		if id, ok := m.ID(); ok && seen[id] {
			continue
		}
		merged = append(merged, m)
	}
	s.convs[key] = merged
}

// FindDirect returns the live direct message with server id id.
func (s *Store) FindDirect(id string) (*chat.Message, bool) {
	m, ok := s.byID[idKey{chat.Direct, id}]
	return m, ok
}

// DirectPair returns the live direct messages sent by senderID to
// recipientID, in arrival order.
func (s *Store) DirectPair(senderID, recipientID string) []*chat.Message {
	peer := senderID
	if peer == s.self {
		peer = recipientID
	}
	var out []*chat.Message
	for _, m := range s.convs[chat.DirectKey(peer)] {
		if m.SenderID == senderID && m.RecipientID == recipientID {
			out = append(out, m)
		}
	}
	return out
}

var _ ledger.Index = (*Store)(nil)

// dropConfirmed removes the pending entry with correlationKey once its
// confirmation turned out to be known already, as when a history fetch
// delivered it first. known takes over the entry's key and state.
func (s *Store) dropConfirmed(key chat.ConversationKey, known *chat.Message, correlationKey string) {
	if correlationKey == "" {
		return
	}
	msgs := s.convs[key]
	for i, p := range msgs {
		if p.Pending() && p.CorrelationKey == correlationKey {
			carry(known, p)
			if known.CorrelationKey == "" {
				known.CorrelationKey = correlationKey
			}
			s.convs[key] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

// clockSkew is how far a fetched server timestamp may trail the local
// send time and still confirm a pending entry by content.
const clockSkew = 5 * time.Second

// pendingMatch finds the pending entry m confirms: first by correlation
// key, then by sender, target and content. Entries in skip are ignored.
// A content match from history also needs m to be no older than the
// pending entry, give or take clockSkew, so an old message with the same
// text never stands in for a new send.
func pendingMatch(msgs []*chat.Message, m *chat.Message, skip map[*chat.Message]bool, history bool) int {
	if m.CorrelationKey != "" {
		for i, p := range msgs {
			if p.Pending() && !skip[p] && p.CorrelationKey == m.CorrelationKey {
				return i
			}
		}
	}
	for i, p := range msgs {
		if !p.Pending() || skip[p] || !sameContent(p, m) {
			continue
		}
		if history && (m.SentAt.IsZero() || m.SentAt.Before(p.SentAt.Add(-clockSkew))) {
			continue
		}
		return i
	}
	return -1
}

func sameContent(a, b *chat.Message) bool {
	if a.Kind != b.Kind || a.SenderID != b.SenderID || a.Content != b.Content {
		return false
	}
	if a.Kind == chat.Group {
		return a.GroupID == b.GroupID
	}
	return a.RecipientID == b.RecipientID
}

func (s *Store) index(m *chat.Message) {
	if id, ok := m.ID(); ok && id != "" {
		s.byID[idKey{m.Kind, id}] = m
	}
}

// merge folds a second copy of a confirmed message into the known one.
// Only delivery state and media are taken from the copy.
func merge(known, dup *chat.Message) {
	carry(known, dup)
	if dup.Media != nil && dup.Media.URL != "" {
		media := *dup.Media
		known.Media = &media
	}
}

// carry moves dst forward to the delivery state src reached.
func carry(dst, src *chat.Message) {
	ledger.Advance(dst, src.Status, stamp(src))
	if dst.DeliveredAt.IsZero() {
		dst.DeliveredAt = src.DeliveredAt
	}
	if dst.ReadAt.IsZero() {
		dst.ReadAt = src.ReadAt
	}
}

func stamp(m *chat.Message) (t time.Time) {
	switch m.Status {
	case chat.StatusRead:
		return m.ReadAt
	case chat.StatusDelivered:
		return m.DeliveredAt
	}
	return t
}
