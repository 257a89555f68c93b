package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

func reply(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return s, nil
}

func str(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func required(req *structpb.Struct, name string) (string, error) {
	v := str(req, name)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

func limit(req *structpb.Struct, def int) int {
	if n := int(req.GetFields()["limit"].GetNumberValue()); n > 0 {
		return n
	}
	return def
}

// conversationKey reads either a peer or a group_id from the request.
func conversationKey(req *structpb.Struct) (chat.ConversationKey, error) {
	peer, group := str(req, "peer"), str(req, "group_id")
	switch {
	case peer != "" && group != "":
		return chat.ConversationKey{}, grpcstatus.Error(codes.InvalidArgument, "peer and group_id are exclusive")
	case peer != "":
		return chat.DirectKey(peer), nil
	case group != "":
		return chat.GroupKey(group), nil
	}
	return chat.ConversationKey{}, grpcstatus.Error(codes.InvalidArgument, "peer or group_id is required")
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return grpcstatus.FromContextError(err).Err()
	}

	var (
		connErr *chat.ConnectionError
		upErr   *chat.UploadError
		reqErr  *chat.RequestError
	)
	switch {
	case errors.As(err, &upErr):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &connErr):
		if errors.Is(err, intsync.ErrNotLoggedIn) {
			return grpcstatus.Error(codes.FailedPrecondition, err.Error())
		}
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.As(err, &reqErr):
		if reqErr.StatusCode == http.StatusNotFound {
			return grpcstatus.Error(codes.NotFound, err.Error())
		}
		return grpcstatus.Error(codes.Internal, err.Error())
	case errors.Is(err, intsync.ErrNotLoggedIn):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, intsync.ErrStopped):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

func list[T any](items []T, encode func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, encode(it))
	}
	return out
}

func stringList(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}

func millis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func keyValue(k chat.ConversationKey) map[string]any {
	return map[string]any{"kind": string(k.Kind), "id": k.ID}
}

func focusValue(k chat.ConversationKey) any {
	if k == (chat.ConversationKey{}) {
		return nil
	}
	return keyValue(k)
}

func messageValue(m *chat.Message) map[string]any {
	v := map[string]any{
		"id":          m.DisplayID(),
		"pending":     m.Pending(),
		"kind":        string(m.Kind),
		"sender_id":   m.SenderID,
		"sender_name": m.SenderName,
		"content":     m.Content,
		"type":        string(m.Type),
		"status":      string(m.Status),
		"sent_at":     millis(m.SentAt),
	}
	if m.CorrelationKey != "" {
		v["correlation_key"] = m.CorrelationKey
	}
	if m.Kind == chat.Group {
		v["group_id"] = m.GroupID
	} else {
		v["recipient_id"] = m.RecipientID
	}
	if m.Media != nil {
		v["media"] = map[string]any{
			"url":       m.Media.URL,
			"file_name": m.Media.FileName,
			"file_size": m.Media.FileSize,
			"mime_type": m.Media.MimeType,
		}
	}
	return v
}

func contactValue(c chat.Contact) map[string]any {
	return map[string]any{
		"username":        c.Username,
		"display_name":    c.DisplayName,
		"presence":        string(c.Presence),
		"preview":         c.LastMessagePreview,
		"last_type":       string(c.LastMessageType),
		"last_message_at": millis(c.LastMessageAt),
		"unread":          c.UnreadCount,
	}
}

func groupValue(g chat.GroupInfo) map[string]any {
	return map[string]any{
		"id":           g.ID,
		"name":         g.Name,
		"description":  g.Description,
		"member_count": g.MemberCount,
		"member_ids":   stringList(g.MemberIDs),
		"unread":       g.UnreadCount,
	}
}

func userValue(u chat.User) map[string]any {
	return map[string]any{
		"username":     u.Username,
		"display_name": u.DisplayName,
		"presence":     string(u.Presence),
	}
}

func searchValue(r store.SearchResult) map[string]any {
	return map[string]any{
		"kind":        r.Message.Kind,
		"conv_id":     r.Message.ConversationID,
		"title":       r.Title,
		"msg_id":      r.Message.MsgID,
		"sender_name": r.Message.SenderName,
		"snippet":     r.Snippet,
		"sent_at":     r.Message.SentAt,
	}
}

func conversationValue(c store.Conversation) map[string]any {
	return map[string]any{
		"kind":            c.Kind,
		"id":              c.ID,
		"title":           c.Title,
		"preview":         c.LastMessagePreview,
		"last_message_at": c.LastMessageAt,
	}
}

// payloadValue encodes the known bus payloads; anything else is dropped.
func payloadValue(p any) any {
	switch v := p.(type) {
	case status.StatusChange:
		return map[string]any{"from": string(v.From), "to": string(v.To)}
	case intsync.ConversationUpdate:
		return map[string]any{"conversation": keyValue(v.Key), "reason": v.Reason}
	case intsync.DirectoryUpdate:
		return map[string]any{"count": v.Count, "local": v.Local}
	case intsync.FocusChange:
		return map[string]any{"focus": focusValue(v.Key)}
	case intsync.SendFailure:
		return map[string]any{
			"conversation":    keyValue(v.Key),
			"correlation_key": v.CorrelationKey,
			"error":           v.Err,
		}
	}
	return nil
}
