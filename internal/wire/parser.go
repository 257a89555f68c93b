package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Layouts accepted for wire timestamps. The backend emits zone-less local
// date-times; the client emits RFC 3339.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a wire timestamp. Empty or unparseable input yields the
// zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatTime renders t the way outbound payloads carry it.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func decode(channel string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &chat.ProtocolError{Channel: channel, Err: err}
	}
	return nil
}

// DecodeDirect parses a private-queue frame into a confirmed message.
func DecodeDirect(channel string, body []byte) (*chat.Message, error) {
	var dm DirectMessage
	if err := decode(channel, body, &dm); err != nil {
		return nil, err
	}
	if dm.SenderID == "" || dm.RecipientID == "" {
		return nil, &chat.ProtocolError{Channel: channel, Err: errors.New("missing senderId or recipientId")}
	}
	return dm.ToChat(), nil
}

// DecodeGroup parses a group-queue frame into a confirmed message.
func DecodeGroup(channel string, body []byte) (*chat.Message, error) {
	var gm GroupMessage
	if err := decode(channel, body, &gm); err != nil {
		return nil, err
	}
	if gm.GroupID == "" || gm.SenderID == "" {
		return nil, &chat.ProtocolError{Channel: channel, Err: errors.New("missing groupId or senderId")}
	}
	return gm.ToChat(), nil
}

// DecodeStatus parses a status-queue frame.
func DecodeStatus(channel string, body []byte) (*StatusUpdate, error) {
	var su StatusUpdate
	if err := decode(channel, body, &su); err != nil {
		return nil, err
	}
	if !chat.Status(su.Status).Valid() {
		return nil, &chat.ProtocolError{Channel: channel, Err: fmt.Errorf("unknown status %q", su.Status)}
	}
	return &su, nil
}

// DecodeGroupUpdate parses a group-updates frame.
func DecodeGroupUpdate(channel string, body []byte) (*GroupUpdate, error) {
	var gu GroupUpdate
	if err := decode(channel, body, &gu); err != nil {
		return nil, err
	}
	return &gu, nil
}

// DecodePublic parses a broadcast frame.
func DecodePublic(channel string, body []byte) (*PublicEvent, error) {
	var pe PublicEvent
	if err := decode(channel, body, &pe); err != nil {
		return nil, err
	}
	return &pe, nil
}

// TargetID returns the message id named by the update.
func (su *StatusUpdate) TargetID() string {
	if su.ID != "" {
		return su.ID.String()
	}
	return su.MessageID.String()
}

// ReadAt returns the read timestamp of the update, falling back to the
// generic timestamp and then to now.
func (su *StatusUpdate) ReadAt(now time.Time) time.Time {
	if t := ParseTime(su.ReadTimestamp); !t.IsZero() {
		return t
	}
	if t := ParseTime(su.Timestamp); !t.IsZero() {
		return t
	}
	return now
}

func messageType(s string) chat.MessageType {
	switch t := chat.MessageType(strings.ToUpper(s)); t {
	case chat.Text, chat.Image, chat.Video, chat.Audio, chat.System:
		return t
	default:
		return chat.Text
	}
}

func media(url, publicID, fileName string, size int64, mime string) *chat.Media {
	if url == "" {
		return nil
	}
	return &chat.Media{URL: url, PublicID: publicID, FileName: fileName, FileSize: size, MimeType: mime}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ToChat converts a confirmed direct message.
func (dm *DirectMessage) ToChat() *chat.Message {
	status := chat.Status(dm.Status)
	if !status.Valid() || status == chat.StatusPending {
		status = chat.StatusSent
	}
	return &chat.Message{
		Ref:            chat.ConfirmedRef{ID: dm.ID.String()},
		CorrelationKey: dm.TempID,
		Kind:           chat.Direct,
		SenderID:       dm.SenderID,
		RecipientID:    dm.RecipientID,
		Content:        dm.Content,
		Media:          media(firstNonEmpty(dm.MediaURL, dm.URL), dm.MediaPublicID, dm.FileName, dm.FileSize, dm.MimeType),
		Type:           messageType(dm.MessageType),
		SentAt:         ParseTime(dm.Timestamp),
		DeliveredAt:    ParseTime(dm.DeliveredTimestamp),
		ReadAt:         ParseTime(dm.ReadTimestamp),
		Status:         status,
	}
}

// ToChat converts a confirmed group message. Group messages carry no
// delivery status; confirmation means SENT.
func (gm *GroupMessage) ToChat() *chat.Message {
	return &chat.Message{
		Ref:            chat.ConfirmedRef{ID: gm.ID.String()},
		CorrelationKey: gm.TempID,
		Kind:           chat.Group,
		SenderID:       gm.SenderID,
		SenderName:     gm.SenderName,
		GroupID:        gm.GroupID.String(),
		Content:        gm.Content,
		Media:          media(firstNonEmpty(gm.MediaURL, gm.URL), gm.MediaPublicID, gm.FileName, gm.FileSize, gm.MimeType),
		Type:           messageType(gm.MessageType),
		SentAt:         ParseTime(gm.Timestamp),
		Status:         chat.StatusSent,
	}
}

// NewDirect builds the outbound payload for a pending direct message.
// The wire status is SENT: the client hands the message to the transport.
func NewDirect(m *chat.Message) *DirectMessage {
	dm := &DirectMessage{
		TempID:      m.CorrelationKey,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Timestamp:   FormatTime(m.SentAt),
		Status:      string(chat.StatusSent),
		MessageType: string(m.Type),
	}
	if m.Media != nil {
		dm.MediaURL = m.Media.URL
		dm.MediaPublicID = m.Media.PublicID
		dm.FileName = m.Media.FileName
		dm.FileSize = m.Media.FileSize
		dm.MimeType = m.Media.MimeType
	}
	return dm
}

// NewGroup builds the outbound payload for a pending group message.
func NewGroup(m *chat.Message) *GroupMessage {
	gm := &GroupMessage{
		TempID:      m.CorrelationKey,
		GroupID:     ID(m.GroupID),
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		Timestamp:   FormatTime(m.SentAt),
		MessageType: string(m.Type),
	}
	if m.Media != nil {
		gm.MediaURL = m.Media.URL
		gm.MediaPublicID = m.Media.PublicID
		gm.FileName = m.Media.FileName
		gm.FileSize = m.Media.FileSize
		gm.MimeType = m.Media.MimeType
	}
	return gm
}

// ToChat converts a directory contact.
func (c *Contact) ToChat() chat.Contact {
	presence := chat.Offline
	if strings.EqualFold(c.Status, string(chat.Online)) {
		presence = chat.Online
	}
	var lastType chat.MessageType
	if c.LastMessageType != "" {
		lastType = messageType(c.LastMessageType)
	}
	return chat.Contact{
		Username:           c.Username,
		DisplayName:        firstNonEmpty(c.FullName, c.Username),
		Presence:           presence,
		LastMessagePreview: c.LastMessage,
		LastMessageType:    lastType,
		LastMessageAt:      ParseTime(c.LastMessageTime),
		UnreadCount:        c.UnreadCount,
	}
}

// ToChat converts a directory group.
func (g *Group) ToChat() chat.GroupInfo {
	count := g.MemberCount
	if count == 0 {
		count = len(g.MemberIDs)
	}
	return chat.GroupInfo{
		ID:          g.ID.String(),
		Name:        g.Name,
		Description: g.Description,
		MemberCount: count,
		MemberIDs:   g.MemberIDs,
		UnreadCount: g.UnreadCount,
	}
}

// ToChat converts a user search result.
func (u *User) ToChat() chat.User {
	presence := chat.Offline
	if strings.EqualFold(u.Status, string(chat.Online)) {
		presence = chat.Online
	}
	return chat.User{Username: u.Username, DisplayName: firstNonEmpty(u.FullName, u.Username), Presence: presence}
}

// ToMedia converts an upload result into message media and type.
func (u *UploadResult) ToMedia() (*chat.Media, chat.MessageType) {
	return &chat.Media{
		URL:      u.URL,
		PublicID: u.PublicID,
		FileName: u.FileName,
		FileSize: u.FileSize,
		MimeType: u.MimeType,
	}, messageType(u.MessageType)
}
