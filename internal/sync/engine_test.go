package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/wire"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type published struct {
	dest string
	body map[string]any
}

// fakeSession stands in for the STOMP session. Connectivity callbacks are
// driven by the test through drop and restore.
type fakeSession struct {
	onState func(transport.State, error)

	mu          gosync.Mutex
	handlers    map[wire.Channel]transport.Handler
	order       []wire.Channel
	connected   bool
	connectErr  error
	publishErr  error
	published   []published
	disconnects int
}

func (s *fakeSession) Subscribe(ch wire.Channel, h transport.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[ch]; !ok {
		s.order = append(s.order, ch)
	}
	s.handlers[ch] = h
	return nil
}

func (s *fakeSession) Connect(ctx context.Context, creds chat.Credentials) error {
	s.onState(transport.StateConnecting, nil)
	s.mu.Lock()
	err := s.connectErr
	s.connected = err == nil
	s.mu.Unlock()
	if err != nil {
		s.onState(transport.StateLost, err)
		return &chat.ConnectionError{Op: "dial", Err: err}
	}
	s.onState(transport.StateConnected, nil)
	return nil
}

func (s *fakeSession) Publish(ctx context.Context, dest string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return &chat.ConnectionError{Op: "publish", Err: chat.ErrNotConnected}
	}
	if s.publishErr != nil {
		return s.publishErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	s.published = append(s.published, published{dest: dest, body: body})
	return nil
}

func (s *fakeSession) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.disconnects++
	s.connected = false
	s.mu.Unlock()
	s.onState(transport.StateClosed, nil)
	return nil
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) deliver(t *testing.T, ch wire.Channel, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	s.deliverRaw(t, ch, body)
}

func (s *fakeSession) deliverRaw(t *testing.T, ch wire.Channel, body []byte) {
	t.Helper()
	s.mu.Lock()
	h := s.handlers[ch]
	s.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", ch)
	}
	h(body)
}

func (s *fakeSession) drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.onState(transport.StateLost, io.EOF)
}

func (s *fakeSession) restore() {
	s.onState(transport.StateConnecting, nil)
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.onState(transport.StateConnected, nil)
}

func (s *fakeSession) sent(dest string) []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []published
	for _, p := range s.published {
		if p.dest == dest {
			out = append(out, p)
		}
	}
	return out
}

// fakeBackend serves canned REST responses and records calls.
type fakeBackend struct {
	mu          gosync.Mutex
	tokens      []string
	calls       []string
	contacts    []chat.Contact
	groups      []chat.GroupInfo
	history     map[string][]*chat.Message
	undelivered []*chat.Message
	gates       map[string]chan struct{}
	issued      string
	uploadErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]*chat.Message),
		gates:   make(map[string]chan struct{}),
	}
}

func (b *fakeBackend) record(call string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	return b.gates[call]
}

func (b *fakeBackend) wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) gate(call string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := make(chan struct{})
	b.gates[call] = g
	return g
}

func (b *fakeBackend) count(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *fakeBackend) setGroups(groups []chat.GroupInfo) {
	b.mu.Lock()
	b.groups = groups
	b.mu.Unlock()
}

func (b *fakeBackend) setHistory(key string, msgs ...*chat.Message) {
	b.mu.Lock()
	b.history[key] = msgs
	b.mu.Unlock()
}

func cloneAll(msgs []*chat.Message) []*chat.Message {
	out := make([]*chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func (b *fakeBackend) Login(ctx context.Context, username, password string) (*chat.Credentials, error) {
	b.record("login " + username)
	if password != "secret" {
		return nil, &chat.RequestError{Method: "POST", Path: "/api/auth/login", StatusCode: 401}
	}
	return &chat.Credentials{Username: username, FullName: "Alice Liddell", Token: b.issued}, nil
}

func (b *fakeBackend) Contacts(ctx context.Context, username string) ([]chat.Contact, error) {
	if err := b.wait(ctx, b.record("contacts")); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chat.Contact(nil), b.contacts...), nil
}

func (b *fakeBackend) Groups(ctx context.Context, username string) ([]chat.GroupInfo, error) {
	if err := b.wait(ctx, b.record("groups")); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chat.GroupInfo(nil), b.groups...), nil
}

func (b *fakeBackend) DirectHistory(ctx context.Context, username, peer string) ([]*chat.Message, error) {
	if err := b.wait(ctx, b.record("history "+peer)); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAll(b.history[peer]), nil
}

func (b *fakeBackend) Undelivered(ctx context.Context, username string) ([]*chat.Message, error) {
	b.record("undelivered")
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAll(b.undelivered), nil
}

func (b *fakeBackend) GroupHistory(ctx context.Context, groupID, username string) ([]*chat.Message, error) {
	if err := b.wait(ctx, b.record("group-history "+groupID)); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAll(b.history["group:"+groupID]), nil
}

func (b *fakeBackend) CreateGroup(ctx context.Context, creator, name, description string, memberIDs []string) (chat.GroupInfo, error) {
	b.record("create " + name)
	return chat.GroupInfo{ID: "99", Name: name, Description: description, MemberIDs: memberIDs, MemberCount: len(memberIDs) + 1}, nil
}

func (b *fakeBackend) LeaveGroup(ctx context.Context, groupID, username string) error {
	b.record("leave " + groupID)
	return nil
}

func (b *fakeBackend) MarkGroupRead(ctx context.Context, groupID, username string) error {
	b.record("group-read " + groupID)
	return nil
}

func (b *fakeBackend) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	b.record("search " + query)
	return []chat.User{{Username: "bob", DisplayName: "Bob"}}, nil
}

func (b *fakeBackend) Upload(ctx context.Context, fileName string, r io.Reader) (*chat.Media, chat.MessageType, error) {
	b.record("upload " + fileName)
	if b.uploadErr != nil {
		return nil, "", &chat.UploadError{FileName: fileName, Err: b.uploadErr}
	}
	return &chat.Media{URL: "https://cdn.example.com/" + fileName, FileName: fileName, MimeType: "image/png"}, chat.Image, nil
}

// manualScheduler holds scheduled tasks until the test fires them.
type manualScheduler struct {
	mu    gosync.Mutex
	tasks []*task
}

type task struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *manualScheduler) schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task{d: d, f: f}
	s.tasks = append(s.tasks, t)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (s *manualScheduler) live() []*task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *manualScheduler) fire() {
	live := s.live()
	s.mu.Lock()
	for _, t := range live {
		t.fired = true
	}
	s.mu.Unlock()
	for _, t := range live {
		t.f()
	}
}

type harness struct {
	e     *Engine
	api   *fakeBackend
	sched *manualScheduler
	bus   *bus.Bus

	mu         gosync.Mutex
	sessions   []*fakeSession
	connectErr error
}

func newHarness(t *testing.T, index Index) *harness {
	t.Helper()
	h := &harness{api: newFakeBackend(), sched: &manualScheduler{}, bus: bus.New()}
	h.e = New(Config{
		Sessions: func(onState func(transport.State, error)) Session {
			h.mu.Lock()
			defer h.mu.Unlock()
			s := &fakeSession{onState: onState, handlers: make(map[wire.Channel]transport.Handler), connectErr: h.connectErr}
			h.sessions = append(h.sessions, s)
			return s
		},
		Backends: func(token string) Backend {
			h.api.mu.Lock()
			h.api.tokens = append(h.api.tokens, token)
			h.api.mu.Unlock()
			return h.api
		},
		Index:    index,
		Bus:      h.bus,
		Logger:   zap.NewNop(),
		Schedule: h.sched.schedule,
		Now:      func() time.Time { return testNow },
	})
	h.e.Start()
	t.Cleanup(h.e.Stop)
	return h
}

func (h *harness) session() *fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		return nil
	}
	return h.sessions[len(h.sessions)-1]
}

// login logs alice in with a token and waits until the initial sync is done.
func (h *harness) login(t *testing.T) *fakeSession {
	t.Helper()
	if _, err := h.e.Login(context.Background(), Account{Username: "alice", FullName: "Alice", Token: "tok"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	waitFor(t, "online", func() bool { return h.e.Status() == status.Online })
	return h.session()
}

func (h *harness) messages(t *testing.T, key chat.ConversationKey) []*chat.Message {
	t.Helper()
	msgs, err := h.e.Messages(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func (h *harness) contact(t *testing.T, username string) chat.Contact {
	t.Helper()
	contacts, err := h.e.Contacts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range contacts {
		if c.Username == username {
			return c
		}
	}
	t.Fatalf("contact %s not found", username)
	return chat.Contact{}
}

func (h *harness) group(t *testing.T, id string) chat.GroupInfo {
	t.Helper()
	groups, err := h.e.Groups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range groups {
		if g.ID == id {
			return g
		}
	}
	t.Fatalf("group %s not found", id)
	return chat.GroupInfo{}
}

// flush waits for everything already posted to the loop to run.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	if _, err := h.e.Focus(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func confirmed(id, from, to, content string, st chat.Status) *chat.Message {
	return &chat.Message{
		Ref:         chat.ConfirmedRef{ID: id},
		Kind:        chat.Direct,
		SenderID:    from,
		RecipientID: to,
		Content:     content,
		Type:        chat.Text,
		SentAt:      testNow.Add(-time.Hour),
		Status:      st,
	}
}

func echo(id, tempID, from, to, content string) wire.DirectMessage {
	return wire.DirectMessage{ID: wire.ID(id), TempID: tempID, SenderID: from, RecipientID: to, Content: content, Status: "SENT", MessageType: "TEXT"}
}

func TestLoginSubscribesAndSyncs(t *testing.T) {
	h := newHarness(t, nil)
	h.api.undelivered = []*chat.Message{confirmed("9", "bob", "alice", "while you were out", chat.StatusDelivered)}

	sess := h.login(t)

	if len(sess.order) != len(wire.Channels) {
		t.Fatalf("subscribed %v, want %v", sess.order, wire.Channels)
	}
	for i, ch := range wire.Channels {
		if sess.order[i] != ch {
			t.Errorf("subscription %d = %s, want %s", i, sess.order[i], ch)
		}
	}
	for _, call := range []string{"contacts", "groups", "undelivered"} {
		if h.api.count(call) != 1 {
			t.Errorf("%s called %d times on connect, want 1", call, h.api.count(call))
		}
	}
	if got := h.api.tokens[len(h.api.tokens)-1]; got != "tok" {
		t.Errorf("backend bound to token %q, want tok", got)
	}

	msgs := h.messages(t, chat.DirectKey("bob"))
	if len(msgs) != 1 || msgs[0].DisplayID() != "9" {
		t.Fatalf("undelivered not merged: %+v", msgs)
	}
}

func TestPasswordLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.api.issued = "issued-token"
	events, unsub := h.bus.Subscribe("session.", 32)
	defer unsub()

	creds, err := h.e.Login(context.Background(), Account{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if creds.Token != "issued-token" || creds.FullName != "Alice Liddell" {
		t.Errorf("creds = %+v", creds)
	}
	waitFor(t, "online", func() bool { return h.e.Status() == status.Online })

	evt := <-events
	if change := evt.Payload.(status.StatusChange); change.To != status.Authenticating {
		t.Errorf("first transition = %s, want AUTHENTICATING", change.To)
	}
}

func TestPasswordLoginFailure(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.e.Login(context.Background(), Account{Username: "alice", Password: "wrong"})
	var reqErr *chat.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Login() error = %v, want RequestError", err)
	}
	if h.e.Status() != status.Idle {
		t.Errorf("status = %s, want IDLE", h.e.Status())
	}
	if h.session() != nil {
		t.Error("a session was created for failed credentials")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.e.Send(context.Background(), "bob", "hi"); !chat.IsConnectionError(err) {
		t.Errorf("Send() before login error = %v, want ConnectionError", err)
	}

	h.connectErr = errors.New("connection refused")
	if _, err := h.e.Login(context.Background(), Account{Username: "alice", Token: "tok"}); !chat.IsConnectionError(err) {
		t.Fatalf("Login() error = %v, want ConnectionError", err)
	}
	waitFor(t, "reconnecting", func() bool { return h.e.Status() == status.Reconnecting })

	_, err := h.e.Send(context.Background(), "bob", "hi")
	if !chat.IsConnectionError(err) || !errors.Is(err, chat.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ConnectionError(not connected)", err)
	}
	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 0 {
		t.Errorf("send while disconnected left %d messages", len(msgs))
	}
}

// TestSendThenEchoAfterReconnect walks the optimistic send path: the
// pending entry appears at once, turns SENT when the transport takes it,
// and the server echo with id 42, arriving after a reconnect, replaces it
// in place.
func TestSendThenEchoAfterReconnect(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)
	bob := chat.DirectKey("bob")
	sess.deliver(t, wire.ChannelMessages, echo("41", "", "bob", "alice", "hello?"))

	sent, err := h.e.Send(context.Background(), "bob", "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !sent.Pending() || sent.Status != chat.StatusSent {
		t.Fatalf("returned message = %+v, want pending and SENT", sent)
	}

	msgs := h.messages(t, bob)
	if len(msgs) != 2 || msgs[1].Content != "hi" || !msgs[1].Pending() {
		t.Fatalf("pending entry missing: %+v", msgs)
	}
	if msgs[1].Status != chat.StatusSent {
		t.Errorf("status after publish = %s, want SENT", msgs[1].Status)
	}
	if !strings.HasPrefix(msgs[1].DisplayID(), "pending:") {
		t.Errorf("pending display id = %q", msgs[1].DisplayID())
	}

	out := sess.sent(wire.DestChat)
	if len(out) != 1 {
		t.Fatalf("published %d chat frames, want 1", len(out))
	}
	if out[0].body["tempId"] != sent.CorrelationKey {
		t.Errorf("tempId = %v, want %s", out[0].body["tempId"], sent.CorrelationKey)
	}
	if _, ok := out[0].body["id"]; ok {
		t.Error("pending id leaked into the payload")
	}

	sess.drop()
	waitFor(t, "reconnecting", func() bool { return h.e.Status() == status.Reconnecting })
	sess.restore()
	waitFor(t, "online again", func() bool { return h.e.Status() == status.Online })

	sess.deliver(t, wire.ChannelMessages, echo("42", sent.CorrelationKey, "alice", "bob", "hi"))

	msgs = h.messages(t, bob)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after echo, want 2", len(msgs))
	}
	got := msgs[1]
	if id, ok := got.ID(); !ok || id != "42" {
		t.Errorf("entry id = %q, want 42", got.DisplayID())
	}
	if got.Status != chat.StatusSent {
		t.Errorf("status = %s, want SENT", got.Status)
	}
	if got.CorrelationKey != sent.CorrelationKey {
		t.Errorf("correlation key = %q, want %q", got.CorrelationKey, sent.CorrelationKey)
	}
}

func TestNoDuplicationAcrossInterleavings(t *testing.T) {
	tests := []struct {
		name         string
		historyFirst bool
	}{
		{"echo then history", false},
		{"history then echo", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			sess := h.login(t)
			bob := chat.DirectKey("bob")

			sent, err := h.e.Send(context.Background(), "bob", "hi")
			if err != nil {
				t.Fatal(err)
			}
			h.api.setHistory("bob", confirmed("42", "alice", "bob", "hi", chat.StatusSent))

			deliverEcho := func() {
				sess.deliver(t, wire.ChannelMessages, echo("42", sent.CorrelationKey, "alice", "bob", "hi"))
			}
			if !tt.historyFirst {
				deliverEcho()
			}
			if _, err := h.e.SelectDirect(context.Background(), "bob"); err != nil {
				t.Fatal(err)
			}
			if tt.historyFirst {
				deliverEcho()
			}

			msgs := h.messages(t, bob)
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want exactly 1: %+v", len(msgs), msgs)
			}
			if msgs[0].Pending() {
				t.Error("message still pending")
			}
		})
	}
}

func TestStatusUpdatesNeverRegress(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)
	sess.deliver(t, wire.ChannelMessages, echo("42", "", "alice", "bob", "hi"))

	sess.deliver(t, wire.ChannelStatus, wire.StatusUpdate{ID: "42", Status: "READ", ReadTimestamp: "2026-03-01T11:00:00"})
	sess.deliver(t, wire.ChannelStatus, wire.StatusUpdate{ID: "42", Status: "DELIVERED"})

	msgs := h.messages(t, chat.DirectKey("bob"))
	if msgs[0].Status != chat.StatusRead {
		t.Errorf("status = %s, want READ", msgs[0].Status)
	}
	if want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC); !msgs[0].ReadAt.Equal(want) {
		t.Errorf("ReadAt = %s, want %s", msgs[0].ReadAt, want)
	}
}

// TestStatusOvertakesEcho delivers the read receipt for a send on the
// status queue before its echo arrives on the private queue.
func TestStatusOvertakesEcho(t *testing.T) {
	tests := []struct {
		name   string
		update wire.StatusUpdate
	}{
		{"bulk read", wire.StatusUpdate{SenderID: "alice", RecipientID: "bob", Status: "READ", ReadTimestamp: "2026-03-01T11:00:00"}},
		{"read by id", wire.StatusUpdate{ID: "42", Status: "READ", ReadTimestamp: "2026-03-01T11:00:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			sess := h.login(t)

			sent, err := h.e.Send(context.Background(), "bob", "hi")
			if err != nil {
				t.Fatal(err)
			}
			sess.deliver(t, wire.ChannelStatus, tt.update)
			sess.deliver(t, wire.ChannelMessages, echo("42", sent.CorrelationKey, "alice", "bob", "hi"))

			msgs := h.messages(t, chat.DirectKey("bob"))
			if len(msgs) != 1 {
				t.Fatalf("got %d messages, want 1", len(msgs))
			}
			if id, ok := msgs[0].ID(); !ok || id != "42" {
				t.Errorf("entry id = %q, want 42", msgs[0].DisplayID())
			}
			if msgs[0].Status != chat.StatusRead {
				t.Errorf("status = %s, want READ", msgs[0].Status)
			}
			if want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC); !msgs[0].ReadAt.Equal(want) {
				t.Errorf("ReadAt = %s, want %s", msgs[0].ReadAt, want)
			}
		})
	}
}

func TestEarlyStatusSettlesThroughHistory(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)

	sess.deliver(t, wire.ChannelStatus, wire.StatusUpdate{ID: "77", Status: "DELIVERED"})
	h.api.setHistory("bob", confirmed("77", "alice", "bob", "earlier", chat.StatusSent))
	if _, err := h.e.SelectDirect(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}

	msgs := h.messages(t, chat.DirectKey("bob"))
	if len(msgs) != 1 || msgs[0].Status != chat.StatusDelivered {
		t.Fatalf("messages = %+v, want 77 DELIVERED", msgs)
	}
}

func TestBulkReadOnlyTouchesPair(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)
	sess.deliver(t, wire.ChannelMessages, echo("1", "", "alice", "bob", "one"))
	sess.deliver(t, wire.ChannelMessages, echo("2", "", "alice", "bob", "two"))
	sess.deliver(t, wire.ChannelMessages, echo("3", "", "alice", "carol", "three"))
	sess.deliver(t, wire.ChannelMessages, echo("4", "", "bob", "alice", "reply"))

	sess.deliver(t, wire.ChannelStatus, wire.StatusUpdate{SenderID: "alice", RecipientID: "bob", Status: "READ"})

	for _, m := range h.messages(t, chat.DirectKey("bob")) {
		want := chat.StatusRead
		if m.SenderID == "bob" {
			want = chat.StatusSent
		}
		if m.Status != want {
			t.Errorf("message %s status = %s, want %s", m.DisplayID(), m.Status, want)
		}
		if m.Status == chat.StatusRead && !m.ReadAt.Equal(testNow) {
			t.Errorf("message %s ReadAt = %s, want local now", m.DisplayID(), m.ReadAt)
		}
	}
	if m := h.messages(t, chat.DirectKey("carol"))[0]; m.Status != chat.StatusSent {
		t.Errorf("unrelated conversation changed to %s", m.Status)
	}
}

func TestSelectZeroesUnreadBeforeFetch(t *testing.T) {
	h := newHarness(t, nil)
	h.api.contacts = []chat.Contact{{Username: "bob", UnreadCount: 3}}
	h.login(t)
	gate := h.api.gate("history bob")

	done := make(chan error, 1)
	go func() {
		_, err := h.e.SelectDirect(context.Background(), "bob")
		done <- err
	}()

	waitFor(t, "history request", func() bool { return h.api.count("history bob") == 1 })
	if c := h.contact(t, "bob"); c.UnreadCount != 0 {
		t.Errorf("unread = %d while history is in flight, want 0", c.UnreadCount)
	}

	close(gate)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SelectDirect did not return")
	}
}

func TestFocusIsExclusive(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	ctx := context.Background()

	steps := []struct {
		sel  func() error
		want chat.ConversationKey
	}{
		{func() error { _, err := h.e.SelectDirect(ctx, "bob"); return err }, chat.DirectKey("bob")},
		{func() error { _, err := h.e.SelectGroup(ctx, "7"); return err }, chat.GroupKey("7")},
		{func() error { _, err := h.e.SelectDirect(ctx, "carol"); return err }, chat.DirectKey("carol")},
		{func() error { return h.e.ClearFocus(ctx) }, chat.ConversationKey{}},
	}
	for i, s := range steps {
		if err := s.sel(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		focus, _ := h.e.Focus(ctx)
		if focus != s.want {
			t.Errorf("step %d: focus = %v, want %v", i, focus, s.want)
		}
	}
}

func TestSelectDirectReadNotification(t *testing.T) {
	tests := []struct {
		name     string
		status   chat.Status
		wantRead bool
	}{
		{"unread message from peer", chat.StatusDelivered, true},
		{"everything read", chat.StatusRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			sess := h.login(t)
			h.api.setHistory("bob",
				confirmed("1", "bob", "alice", "hey", tt.status),
				confirmed("2", "alice", "bob", "yo", chat.StatusSent),
			)

			if _, err := h.e.SelectDirect(context.Background(), "bob"); err != nil {
				t.Fatal(err)
			}

			if tt.wantRead {
				waitFor(t, "read notification", func() bool { return len(sess.sent(wire.DestRead)) == 1 })
				note := sess.sent(wire.DestRead)[0].body
				if note["senderId"] != "bob" || note["recipientId"] != "alice" {
					t.Errorf("read notification = %v", note)
				}
				return
			}
			time.Sleep(50 * time.Millisecond)
			if n := len(sess.sent(wire.DestRead)); n != 0 {
				t.Errorf("sent %d read notifications, want 0", n)
			}
		})
	}
}

func TestSelectGroupMarksRead(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	own := &chat.Message{Ref: chat.ConfirmedRef{ID: "1"}, Kind: chat.Group, GroupID: "7", SenderID: "alice", Content: "mine", Status: chat.StatusSent}
	other := &chat.Message{Ref: chat.ConfirmedRef{ID: "2"}, Kind: chat.Group, GroupID: "8", SenderID: "carol", Content: "theirs", Status: chat.StatusSent}
	h.api.setHistory("group:7", own)
	h.api.setHistory("group:8", other)

	for _, id := range []string{"7", "8"} {
		if _, err := h.e.SelectGroup(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	if n := h.api.count("group-read 7"); n != 0 {
		t.Errorf("group 7 marked read %d times, only own messages", n)
	}
	if n := h.api.count("group-read 8"); n != 1 {
		t.Errorf("group 8 marked read %d times, want 1", n)
	}
}

func TestGroupUpdateFocus(t *testing.T) {
	tests := []struct {
		tag       string
		groupID   string
		wantFocus bool
	}{
		{"REMOVED_FROM_GROUP", "7", false},
		{"GROUP_DELETED", "7", false},
		{"REMOVED_FROM_GROUP", "8", true},
		{"ADDED_TO_GROUP", "7", true},
		{"SOMETHING_NEW", "7", true},
	}
	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.groupID, func(t *testing.T) {
			h := newHarness(t, nil)
			sess := h.login(t)
			if _, err := h.e.SelectGroup(context.Background(), "7"); err != nil {
				t.Fatal(err)
			}
			before := h.api.count("groups")

			sess.deliver(t, wire.ChannelGroupUpdates, wire.GroupUpdate{Type: tt.tag, GroupID: wire.ID(tt.groupID)})

			focus, _ := h.e.Focus(context.Background())
			if got := focus == chat.GroupKey("7"); got != tt.wantFocus {
				t.Errorf("focus = %v, want focused=%v", focus, tt.wantFocus)
			}
			waitFor(t, "groups refresh", func() bool { return h.api.count("groups") == before+1 })
		})
	}
}

func TestInboundFromFocusedPeer(t *testing.T) {
	h := newHarness(t, nil)
	h.api.contacts = []chat.Contact{{Username: "bob", UnreadCount: 0}}
	sess := h.login(t)
	if _, err := h.e.SelectDirect(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}

	sess.deliver(t, wire.ChannelMessages, echo("5", "", "bob", "alice", "you there?"))
	waitFor(t, "read notification", func() bool { return len(sess.sent(wire.DestRead)) == 1 })

	sess.deliver(t, wire.ChannelMessages, echo("6", "", "carol", "alice", "psst"))
	time.Sleep(50 * time.Millisecond)
	if n := len(sess.sent(wire.DestRead)); n != 1 {
		t.Errorf("sent %d read notifications, want 1 (carol is not focused)", n)
	}
}

func TestGroupUnreadCounting(t *testing.T) {
	h := newHarness(t, nil)
	h.api.setGroups([]chat.GroupInfo{{ID: "7", Name: "Team"}, {ID: "8", Name: "Family"}})
	sess := h.login(t)
	if _, err := h.e.SelectGroup(context.Background(), "8"); err != nil {
		t.Fatal(err)
	}
	h.flush(t)
	h.api.gate("groups")

	msg := func(group, sender string) wire.GroupMessage {
		return wire.GroupMessage{ID: wire.ID(group + sender), GroupID: wire.ID(group), SenderID: sender, Content: "x"}
	}
	sess.deliver(t, wire.ChannelGroupMessages, msg("7", "carol"))
	sess.deliver(t, wire.ChannelGroupMessages, msg("7", "alice"))
	sess.deliver(t, wire.ChannelGroupMessages, msg("8", "carol"))

	if g := h.group(t, "7"); g.UnreadCount != 1 {
		t.Errorf("group 7 unread = %d, want 1 (own message not counted)", g.UnreadCount)
	}
	if g := h.group(t, "8"); g.UnreadCount != 0 {
		t.Errorf("focused group unread = %d, want 0", g.UnreadCount)
	}
}

func TestPostSendRefreshDebounced(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	before := h.api.count("contacts")

	for _, text := range []string{"one", "two", "three"} {
		if _, err := h.e.Send(context.Background(), "bob", text); err != nil {
			t.Fatal(err)
		}
	}
	h.flush(t)

	live := h.sched.live()
	if len(live) != 1 {
		t.Fatalf("%d refreshes scheduled, want 1", len(live))
	}
	if live[0].d != DefaultRefreshDelay {
		t.Errorf("delay = %s, want %s", live[0].d, DefaultRefreshDelay)
	}
	if h.api.count("contacts") != before {
		t.Error("directory refreshed before the debounce fired")
	}

	h.sched.fire()
	waitFor(t, "contacts refresh", func() bool { return h.api.count("contacts") == before+1 })
}

func TestPublishFailureRemovesPending(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)
	failures, unsub := h.bus.Subscribe("message.", 4)
	defer unsub()

	sess.mu.Lock()
	sess.publishErr = &chat.ConnectionError{Op: "publish", Err: io.ErrClosedPipe}
	sess.mu.Unlock()

	if _, err := h.e.Send(context.Background(), "bob", "hi"); !chat.IsConnectionError(err) {
		t.Fatalf("Send() error = %v, want ConnectionError", err)
	}
	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 0 {
		t.Errorf("failed send left %d messages", len(msgs))
	}
	select {
	case evt := <-failures:
		if evt.Kind != bus.KindSendFailed {
			t.Errorf("event = %s, want %s", evt.Kind, bus.KindSendFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("no send_failed event")
	}
}

func TestSendMedia(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)

	m, err := h.e.SendMedia(context.Background(), chat.GroupKey("7"), "cat.png", strings.NewReader("png"), "look")
	if err != nil {
		t.Fatalf("SendMedia() error = %v", err)
	}
	if m.Type != chat.Image || m.Media == nil {
		t.Errorf("message = %+v", m)
	}
	out := sess.sent(wire.DestGroupChat)
	if len(out) != 1 {
		t.Fatalf("published %d group frames, want 1", len(out))
	}
	if out[0].body["mediaUrl"] != "https://cdn.example.com/cat.png" || out[0].body["messageType"] != "IMAGE" {
		t.Errorf("payload = %v", out[0].body)
	}
	if out[0].body["groupId"] != "7" || out[0].body["content"] != "look" {
		t.Errorf("payload = %v", out[0].body)
	}
}

func TestUploadFailureCreatesNothing(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)
	h.api.uploadErr = errors.New("too large")

	_, err := h.e.SendMedia(context.Background(), chat.DirectKey("bob"), "big.mov", strings.NewReader("x"), "")
	var upErr *chat.UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("SendMedia() error = %v, want UploadError", err)
	}
	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 0 {
		t.Errorf("upload failure left %d messages", len(msgs))
	}
	if n := len(sess.sent(wire.DestChat)); n != 0 {
		t.Errorf("published %d frames after upload failure", n)
	}
}

func TestLateHistoryMergesIntoItsConversation(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.api.setHistory("bob", confirmed("1", "bob", "alice", "late", chat.StatusRead))
	gate := h.api.gate("history bob")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.e.SelectDirect(context.Background(), "bob")
	}()
	waitFor(t, "bob history request", func() bool { return h.api.count("history bob") == 1 })

	if _, err := h.e.SelectDirect(context.Background(), "carol"); err != nil {
		t.Fatal(err)
	}
	close(gate)
	<-done

	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 1 {
		t.Errorf("bob has %d messages, want the late history", len(msgs))
	}
	if focus, _ := h.e.Focus(context.Background()); focus != chat.DirectKey("carol") {
		t.Errorf("focus = %v, want carol", focus)
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.login(t)

	sess.deliverRaw(t, wire.ChannelMessages, []byte("{not json"))
	sess.deliverRaw(t, wire.ChannelStatus, []byte(`{"id":"1","status":"LOST"}`))
	sess.deliver(t, wire.ChannelMessages, echo("7", "", "bob", "alice", "still here"))

	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestLeaveAndCreateGroup(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	ctx := context.Background()
	if _, err := h.e.SelectGroup(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	before := h.api.count("groups")

	if err := h.e.LeaveGroup(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if focus, _ := h.e.Focus(ctx); focus != (chat.ConversationKey{}) {
		t.Errorf("focus = %v after leaving the focused group", focus)
	}

	g, err := h.e.CreateGroup(ctx, "Book club", "", []string{"bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != "99" || g.MemberCount != 3 {
		t.Errorf("group = %+v", g)
	}
	waitFor(t, "groups refreshes", func() bool { return h.api.count("groups") >= before+2 })
}

func TestLogoutClearsState(t *testing.T) {
	h := newHarness(t, nil)
	h.api.contacts = []chat.Contact{{Username: "bob"}}
	sess := h.login(t)
	sess.deliver(t, wire.ChannelMessages, echo("1", "", "bob", "alice", "hi"))

	if err := h.e.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sess.disconnects != 1 {
		t.Errorf("Disconnect called %d times, want 1", sess.disconnects)
	}
	if h.e.Status() != status.Idle {
		t.Errorf("status = %s, want IDLE", h.e.Status())
	}
	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 0 {
		t.Errorf("%d messages survived logout", len(msgs))
	}
	if contacts, _ := h.e.Contacts(context.Background()); len(contacts) != 0 {
		t.Errorf("%d contacts survived logout", len(contacts))
	}
	if _, err := h.e.SearchUsers(context.Background(), "bo"); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("SearchUsers() after logout error = %v", err)
	}
}

func TestSwapCredentialsReplacesSession(t *testing.T) {
	h := newHarness(t, nil)
	first := h.login(t)

	if _, err := h.e.Login(context.Background(), Account{Username: "alice", Token: "tok2"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "online", func() bool { return h.e.Status() == status.Online })

	second := h.session()
	if second == first {
		t.Fatal("session was not replaced")
	}
	if first.disconnects != 1 {
		t.Errorf("old session disconnected %d times, want 1", first.disconnects)
	}

	// Frames from the old session are ignored.
	first.deliver(t, wire.ChannelMessages, echo("1", "", "bob", "alice", "ghost"))
	if msgs := h.messages(t, chat.DirectKey("bob")); len(msgs) != 0 {
		t.Errorf("old session frame applied: %+v", msgs)
	}
}

func TestConfirmedMessagesAreIndexed(t *testing.T) {
	db, err := store.OpenFresh(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := newHarness(t, db)
	h.api.contacts = []chat.Contact{{Username: "bob", DisplayName: "Bob"}}
	sess := h.login(t)

	if _, err := h.e.Send(context.Background(), "bob", "pending only"); err != nil {
		t.Fatal(err)
	}
	sess.deliver(t, wire.ChannelMessages, echo("42", "", "bob", "alice", "lunch tomorrow?"))
	h.flush(t)

	results, err := db.SearchMessages("lunch", "", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "42" || results[0].Title != "Bob" {
		t.Errorf("results = %+v", results)
	}
	if results, _ := db.SearchMessages("pending", "", "", 10); len(results) != 0 {
		t.Errorf("pending message indexed: %+v", results)
	}
}
