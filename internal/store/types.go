package store

// Conversation is the index row of one direct or group conversation.
type Conversation struct {
	Kind               string
	ID                 string
	Title              string
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a confirmed message as indexed for search. Timestamps are unix
// milliseconds.
type Message struct {
	Kind           string
	ConversationID string
	MsgID          string
	SenderID       string
	SenderName     string
	Content        string
	MessageType    string
	MediaURL       string
	Status         string
	StatusRank     int
	SentAt         int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Title   string
	Snippet string
}
