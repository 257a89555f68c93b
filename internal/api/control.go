package api

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Engine is the part of the sync engine the control plane drives.
type Engine interface {
	Status() status.State
	Bus() *bus.Bus
	Credentials(ctx context.Context) (chat.Credentials, error)
	Login(ctx context.Context, acct intsync.Account) (chat.Credentials, error)
	Logout(ctx context.Context) error
	Contacts(ctx context.Context) ([]chat.Contact, error)
	Groups(ctx context.Context) ([]chat.GroupInfo, error)
	Focus(ctx context.Context) (chat.ConversationKey, error)
	ClearFocus(ctx context.Context) error
	SelectDirect(ctx context.Context, peer string) ([]*chat.Message, error)
	SelectGroup(ctx context.Context, groupID string) ([]*chat.Message, error)
	Messages(ctx context.Context, key chat.ConversationKey) ([]*chat.Message, error)
	Send(ctx context.Context, peer, content string) (*chat.Message, error)
	SendGroup(ctx context.Context, groupID, content string) (*chat.Message, error)
	SendMedia(ctx context.Context, key chat.ConversationKey, fileName string, r io.Reader, caption string) (*chat.Message, error)
	LeaveGroup(ctx context.Context, groupID string) error
	CreateGroup(ctx context.Context, name, description string, memberIDs []string) (chat.GroupInfo, error)
	SearchUsers(ctx context.Context, query string) ([]chat.User, error)
}

// Index is the search side of the session index.
type Index interface {
	SearchMessages(query, kind, convID string, limit int) ([]store.SearchResult, error)
	ListConversations(limit int) ([]store.Conversation, error)
	MessageCount() (int64, error)
}

// ControlService implements the control service.
type ControlService struct {
	sessionName string
	startedAt   time.Time
	engine      Engine
	index       Index
	logger      *zap.Logger
	quit        chan struct{}
	closeOnce   sync.Once

	// OnLogin, when set, is called with the credentials of every
	// successful Login request.
	OnLogin func(chat.Credentials)
}

// NewControlService creates the control service. index may be nil.
func NewControlService(sessionName string, engine Engine, index Index, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		engine:      engine,
		index:       index,
		logger:      logger,
		quit:        make(chan struct{}),
	}
}

// Close ends every open Watch stream. Unary methods keep working.
func (s *ControlService) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

func (s *ControlService) methods() map[string]unaryFunc {
	return map[string]unaryFunc{
		MethodStatus:         s.status,
		MethodLogin:          s.login,
		MethodLogout:         s.logout,
		MethodContacts:       s.contacts,
		MethodGroups:         s.groups,
		MethodOpen:           s.open,
		MethodOpenGroup:      s.openGroup,
		MethodClose:          s.close,
		MethodHistory:        s.history,
		MethodSend:           s.send,
		MethodSendGroup:      s.sendGroup,
		MethodSendMedia:      s.sendMedia,
		MethodLeaveGroup:     s.leaveGroup,
		MethodCreateGroup:    s.createGroup,
		MethodSearchUsers:    s.searchUsers,
		MethodSearchMessages: s.searchMessages,
		MethodRecent:         s.recent,
	}
}

func (s *ControlService) status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	creds, err := s.engine.Credentials(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	focus, err := s.engine.Focus(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	fields := map[string]any{
		"session":        s.sessionName,
		"status":         string(s.engine.Status()),
		"user":           creds.Username,
		"uptime_ms":      time.Since(s.startedAt).Milliseconds(),
		"focus":          focusValue(focus),
		"dropped_events": s.engine.Bus().Dropped(),
	}
	if s.index != nil {
		if n, err := s.index.MessageCount(); err == nil {
			fields["indexed_messages"] = n
		}
	}
	return reply(fields)
}

func (s *ControlService) login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, err := required(req, "username")
	if err != nil {
		return nil, err
	}
	acct := intsync.Account{
		Username: username,
		FullName: str(req, "full_name"),
		Token:    str(req, "token"),
		Password: str(req, "password"),
	}
	creds, err := s.engine.Login(ctx, acct)
	if creds.Token == "" && err != nil {
		return nil, toStatus(err)
	}
	if s.OnLogin != nil {
		s.OnLogin(creds)
	}
	fields := map[string]any{"user": creds.Username, "status": string(s.engine.Status())}
	if err != nil {
		// Authenticated, but the first connect failed; the session retries.
		s.logger.Warn("connect after login failed", zap.Error(err))
		fields["warning"] = err.Error()
	}
	return reply(fields)
}

func (s *ControlService) logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"status": string(s.engine.Status())})
}

func (s *ControlService) contacts(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	contacts, err := s.engine.Contacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"contacts": list(contacts, contactValue)})
}

func (s *ControlService) groups(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	groups, err := s.engine.Groups(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"groups": list(groups, groupValue)})
}

func (s *ControlService) open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	peer, err := required(req, "peer")
	if err != nil {
		return nil, err
	}
	msgs, err := s.engine.SelectDirect(ctx, peer)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"messages": list(msgs, messageValue)})
}

func (s *ControlService) openGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "group_id")
	if err != nil {
		return nil, err
	}
	msgs, err := s.engine.SelectGroup(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"messages": list(msgs, messageValue)})
}

func (s *ControlService) close(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.ClearFocus(ctx); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *ControlService) history(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := conversationKey(req)
	if err != nil {
		return nil, err
	}
	msgs, err := s.engine.Messages(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"messages": list(msgs, messageValue)})
}

func (s *ControlService) send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	peer, err := required(req, "peer")
	if err != nil {
		return nil, err
	}
	text, err := required(req, "text")
	if err != nil {
		return nil, err
	}
	m, err := s.engine.Send(ctx, peer, text)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"message": messageValue(m)})
}

func (s *ControlService) sendGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "group_id")
	if err != nil {
		return nil, err
	}
	text, err := required(req, "text")
	if err != nil {
		return nil, err
	}
	m, err := s.engine.SendGroup(ctx, id, text)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"message": messageValue(m)})
}

// sendMedia reads the file from the daemon's filesystem; chatctl resolves
// the path to an absolute one before sending it.
func (s *ControlService) sendMedia(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := conversationKey(req)
	if err != nil {
		return nil, err
	}
	path, err := required(req, "path")
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	m, err := s.engine.SendMedia(ctx, key, filepath.Base(path), f, str(req, "caption"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"message": messageValue(m)})
}

func (s *ControlService) leaveGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "group_id")
	if err != nil {
		return nil, err
	}
	if err := s.engine.LeaveGroup(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return reply(nil)
}

func (s *ControlService) createGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := required(req, "name")
	if err != nil {
		return nil, err
	}
	var members []string
	for _, v := range req.GetFields()["member_ids"].GetListValue().GetValues() {
		if id := v.GetStringValue(); id != "" {
			members = append(members, id)
		}
	}
	g, err := s.engine.CreateGroup(ctx, name, str(req, "description"), members)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"group": groupValue(g)})
}

func (s *ControlService) searchUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := required(req, "query")
	if err != nil {
		return nil, err
	}
	users, err := s.engine.SearchUsers(ctx, query)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"users": list(users, userValue)})
}

func (s *ControlService) searchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.index == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "search index not available")
	}
	query, err := required(req, "query")
	if err != nil {
		return nil, err
	}
	var kind, id string
	if req.GetFields()["peer"] != nil || req.GetFields()["group_id"] != nil {
		key, err := conversationKey(req)
		if err != nil {
			return nil, err
		}
		kind, id = string(key.Kind), key.ID
	}
	results, err := s.index.SearchMessages(query, kind, id, limit(req, 20))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search: %v", err)
	}
	return reply(map[string]any{"results": list(results, searchValue)})
}

func (s *ControlService) recent(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.index == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "search index not available")
	}
	convs, err := s.index.ListConversations(limit(req, 20))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list conversations: %v", err)
	}
	return reply(map[string]any{"conversations": list(convs, conversationValue)})
}

// Watch streams bus events whose kind starts with the requested namespace
// until the client goes away or the service is closed.
func (s *ControlService) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.engine.Bus().Subscribe(str(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := structpb.NewStruct(map[string]any{
				"event_id":    uuid.NewString(),
				"session":     s.sessionName,
				"kind":        evt.Kind,
				"occurred_at": evt.Timestamp.UTC().Format(time.RFC3339Nano),
				"payload":     payloadValue(evt.Payload),
			})
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.quit:
			return nil
		}
	}
}
