package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ID is a server identifier. The backend emits ids either as JSON strings
// or as numbers; both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}

// FromInt formats a numeric id.
func FromInt(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// DirectMessage is the wire shape of a private message, both published to
// /app/chat and received on the private queue.
type DirectMessage struct {
	ID                 ID     `json:"id,omitempty"`
	TempID             string `json:"tempId,omitempty"`
	SenderID           string `json:"senderId"`
	RecipientID        string `json:"recipientId"`
	Content            string `json:"content"`
	Timestamp          string `json:"timestamp,omitempty"`
	Status             string `json:"status,omitempty"`
	MessageType        string `json:"messageType,omitempty"`
	MediaURL           string `json:"mediaUrl,omitempty"`
	URL                string `json:"url,omitempty"`
	MediaPublicID      string `json:"mediaPublicId,omitempty"`
	FileName           string `json:"fileName,omitempty"`
	FileSize           int64  `json:"fileSize,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
	ReadTimestamp      string `json:"readTimestamp,omitempty"`
	DeliveredTimestamp string `json:"deliveredTimestamp,omitempty"`
}

// GroupMessage is the wire shape of a group message.
type GroupMessage struct {
	ID            ID     `json:"id,omitempty"`
	TempID        string `json:"tempId,omitempty"`
	GroupID       ID     `json:"groupId"`
	SenderID      string `json:"senderId"`
	SenderName    string `json:"senderName,omitempty"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp,omitempty"`
	MessageType   string `json:"messageType,omitempty"`
	MediaURL      string `json:"mediaUrl,omitempty"`
	URL           string `json:"url,omitempty"`
	MediaPublicID string `json:"mediaPublicId,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	FileSize      int64  `json:"fileSize,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
}

// StatusUpdate arrives on the status queue. Either ID/MessageID names one
// message, or SenderID/RecipientID name a whole pair for a bulk read.
type StatusUpdate struct {
	ID                 ID     `json:"id,omitempty"`
	MessageID          ID     `json:"messageId,omitempty"`
	SenderID           string `json:"senderId,omitempty"`
	RecipientID        string `json:"recipientId,omitempty"`
	Status             string `json:"status"`
	Timestamp          string `json:"timestamp,omitempty"`
	ReadTimestamp      string `json:"readTimestamp,omitempty"`
	DeliveredTimestamp string `json:"deliveredTimestamp,omitempty"`
}

// GroupUpdate arrives on the group-updates queue.
type GroupUpdate struct {
	Type    string `json:"type"`
	GroupID ID     `json:"groupId,omitempty"`
	Message string `json:"message,omitempty"`
}

// PublicEvent arrives on the shared broadcast topic. Only its arrival is
// significant; fields are logged.
type PublicEvent struct {
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Status   string `json:"status,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Presence is the body of the online/offline announcements.
type Presence struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Status   string `json:"status"`
}

// ReadNotification is published to /app/chat.read.
type ReadNotification struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

// Contact is one entry of GET /contacts/{username}.
type Contact struct {
	Username        string `json:"username"`
	FullName        string `json:"fullName"`
	Status          string `json:"status"`
	LastMessage     string `json:"lastMessage"`
	LastMessageType string `json:"lastMessageType"`
	LastMessageTime string `json:"lastMessageTime"`
	UnreadCount     int    `json:"unreadCount"`
}

// Group is one entry of GET /groups/user/{username}.
type Group struct {
	ID          ID       `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberCount int      `json:"memberCount"`
	MemberIDs   []string `json:"memberIds"`
	UnreadCount int      `json:"unreadCount"`
}

// CreateGroup is the body of POST /groups.
type CreateGroup struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds"`
}

// User is one entry of GET /users/search.
type User struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Status   string `json:"status"`
}

// UploadResult is the body returned by POST /api/media/upload.
type UploadResult struct {
	URL         string `json:"url"`
	MessageType string `json:"messageType"`
	PublicID    string `json:"publicId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
}

// AuthRequest is the body of the login and register endpoints.
type AuthRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Password string `json:"password"`
}

// AuthResponse is returned by the login and register endpoints.
type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// ErrorBody is the JSON error envelope some endpoints return.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
