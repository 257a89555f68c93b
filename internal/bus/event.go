package bus

import "time"

// Event kinds. The part before the first dot is the namespace subscribers
// filter on.
const (
	KindStatusChanged       = "session.status_changed"
	KindConversationUpdated = "conversation.updated"
	KindContacts            = "directory.contacts"
	KindGroups              = "directory.groups"
	KindFocusChanged        = "focus.changed"
	KindSendFailed          = "message.send_failed"
)

// Event is an observer notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
