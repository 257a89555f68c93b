package chat

import "time"

// Kind distinguishes direct from group conversations.
type Kind string

const (
	Direct Kind = "DIRECT"
	Group  Kind = "GROUP"
)

// MessageType is the content type of a message.
type MessageType string

const (
	Text   MessageType = "TEXT"
	Image  MessageType = "IMAGE"
	Video  MessageType = "VIDEO"
	Audio  MessageType = "AUDIO"
	System MessageType = "SYSTEM"
)

// Presence is the online indicator of a contact.
type Presence string

const (
	Online  Presence = "ONLINE"
	Offline Presence = "OFFLINE"
)

// Ref identifies a message: by client correlation key while it is pending,
// by server id once confirmed.
type Ref interface {
	ref()
}

// PendingRef is the identity of an optimistic message.
type PendingRef struct {
	Key string
}

// ConfirmedRef is the identity of a server-acknowledged message.
type ConfirmedRef struct {
	ID string
}

func (PendingRef) ref()   {}
func (ConfirmedRef) ref() {}

// Media describes an uploaded attachment.
type Media struct {
	URL      string
	PublicID string
	FileName string
	FileSize int64
	MimeType string
}

// Message is one entry of a conversation.
type Message struct {
	Ref            Ref
	CorrelationKey string
	Kind           Kind
	SenderID       string
	SenderName     string
	RecipientID    string
	GroupID        string
	Content        string
	Media          *Media
	Type           MessageType
	SentAt         time.Time
	DeliveredAt    time.Time
	ReadAt         time.Time
	Status         Status
}

// ID returns the server id and whether the message is confirmed.
func (m *Message) ID() (string, bool) {
	if c, ok := m.Ref.(ConfirmedRef); ok {
		return c.ID, true
	}
	return "", false
}

// Pending reports whether the message still waits for server confirmation.
func (m *Message) Pending() bool {
	_, ok := m.Ref.(PendingRef)
	return ok
}

// DisplayID is a stable id for rendering. Pending ids are local only and
// must never be sent to the server.
func (m *Message) DisplayID() string {
	switch r := m.Ref.(type) {
	case ConfirmedRef:
		return r.ID
	case PendingRef:
		return "pending:" + r.Key
	default:
		return ""
	}
}

// Key returns the conversation this message belongs to from the point of
// view of self.
func (m *Message) Key(self string) ConversationKey {
	if m.Kind == Group {
		return ConversationKey{Kind: Group, ID: m.GroupID}
	}
	peer := m.SenderID
	if peer == self {
		peer = m.RecipientID
	}
	return ConversationKey{Kind: Direct, ID: peer}
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	return &c
}

// ConversationKey identifies a conversation by kind and peer or group id.
type ConversationKey struct {
	Kind Kind
	ID   string
}

func (k ConversationKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// DirectKey is shorthand for a direct conversation key.
func DirectKey(peer string) ConversationKey {
	return ConversationKey{Kind: Direct, ID: peer}
}

// GroupKey is shorthand for a group conversation key.
func GroupKey(id string) ConversationKey {
	return ConversationKey{Kind: Group, ID: id}
}

// Contact is a directory entry for a direct peer.
type Contact struct {
	Username           string
	DisplayName        string
	Presence           Presence
	LastMessagePreview string
	LastMessageType    MessageType
	LastMessageAt      time.Time
	UnreadCount        int
}

// GroupInfo is a directory entry for a group.
type GroupInfo struct {
	ID          string
	Name        string
	Description string
	MemberCount int
	MemberIDs   []string
	UnreadCount int
}

// User is a search result from the user directory.
type User struct {
	Username    string
	DisplayName string
	Presence    Presence
}

// Credentials authenticate a Session.
type Credentials struct {
	Username string
	FullName string
	Token    string
}
