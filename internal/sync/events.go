package sync

import "github.com/matheus3301/chatsync/internal/chat"

// ConversationUpdate is the payload of bus.KindConversationUpdated.
type ConversationUpdate struct {
	Key chat.ConversationKey
	// Reason is what changed the conversation: "pending", "sent",
	// "merged", "replaced", "appended", "status", "history" or "removed".
	Reason string
}

// DirectoryUpdate is the payload of bus.KindContacts and bus.KindGroups.
type DirectoryUpdate struct {
	Count int
	// Local is set when the change was a local unread adjustment rather
	// than a server refresh.
	Local bool
}

// FocusChange is the payload of bus.KindFocusChanged. A zero Key means
// nothing is focused.
type FocusChange struct {
	Key chat.ConversationKey
}

// SendFailure is the payload of bus.KindSendFailed.
type SendFailure struct {
	Key            chat.ConversationKey
	CorrelationKey string
	Err            string
}
