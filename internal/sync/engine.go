// Package sync is the chat engine. It owns the transport session, the
// conversation store, the status ledger and the directory cache, and
// serializes every inbound frame and user action through one event loop.
//
// Network calls never run on the loop. They run on the caller's goroutine
// or a short-lived one, and their results re-enter the loop as closures.
package sync

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/ledger"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/wire"
)

// DefaultRefreshDelay is the debounce of the directory refresh after a send.
const DefaultRefreshDelay = 500 * time.Millisecond

// ErrStopped is returned by operations posted after Stop.
var ErrStopped = errors.New("engine stopped")

// ErrNotLoggedIn is returned by operations that need credentials.
var ErrNotLoggedIn = errors.New("not logged in")

// Session is the transport the engine drives. *transport.Session
// implements it.
type Session interface {
	Subscribe(channel wire.Channel, h transport.Handler) error
	Connect(ctx context.Context, creds chat.Credentials) error
	Publish(ctx context.Context, destination string, payload any) error
	Disconnect(ctx context.Context) error
	Connected() bool
}

// SessionFactory builds a fresh, unconnected session whose connectivity
// changes are reported to onState.
type SessionFactory func(onState func(transport.State, error)) Session

// Backend is the REST surface the engine uses. *backend.Client implements it.
type Backend interface {
	Login(ctx context.Context, username, password string) (*chat.Credentials, error)
	Contacts(ctx context.Context, username string) ([]chat.Contact, error)
	Groups(ctx context.Context, username string) ([]chat.GroupInfo, error)
	DirectHistory(ctx context.Context, username, peer string) ([]*chat.Message, error)
	Undelivered(ctx context.Context, username string) ([]*chat.Message, error)
	GroupHistory(ctx context.Context, groupID, username string) ([]*chat.Message, error)
	CreateGroup(ctx context.Context, creator, name, description string, memberIDs []string) (chat.GroupInfo, error)
	LeaveGroup(ctx context.Context, groupID, username string) error
	MarkGroupRead(ctx context.Context, groupID, username string) error
	SearchUsers(ctx context.Context, query string) ([]chat.User, error)
	Upload(ctx context.Context, fileName string, r io.Reader) (*chat.Media, chat.MessageType, error)
}

// BackendFactory returns a backend bound to token. An empty token gives
// the unauthenticated client used for login.
type BackendFactory func(token string) Backend

// Index receives every confirmed message for search. *store.DB implements it.
type Index interface {
	UpsertMessages(msgs []store.Message) error
	UpsertConversation(c *store.Conversation) error
}

// Scheduler runs f once after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

// AfterFunc is the Scheduler backed by time.AfterFunc.
func AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Config holds the collaborators of an Engine. Sessions and Backends are
// required; everything else has a default.
type Config struct {
	Sessions     SessionFactory
	Backends     BackendFactory
	Index        Index
	Bus          *bus.Bus
	Status       *status.Machine
	Logger       *zap.Logger
	RefreshDelay time.Duration
	Schedule     Scheduler
	Now          func() time.Time
	// RequestTimeout bounds the REST calls the engine starts on its own.
	RequestTimeout time.Duration
}

// Engine is the chat synchronization engine.
type Engine struct {
	sessions SessionFactory
	backends BackendFactory
	index    Index
	bus      *bus.Bus
	status   *status.Machine
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration

	queue   chan func()
	quit    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	// Everything below is owned by the loop.
	creds       chat.Credentials
	session     Session
	api         Backend
	gen         uint64
	conv        *conversation.Store
	ledger      *ledger.Ledger
	dir         *directory.Cache
	focus       chat.ConversationKey
	refresh     *debouncer
	contactsGen uint64
	groupsGen   uint64
	syncing     int
	syncEpoch   uint64
}

// New creates an engine. Call Start before any other method.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.Status == nil {
		cfg.Status = status.NewMachine(cfg.Bus)
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if cfg.Schedule == nil {
		cfg.Schedule = AfterFunc
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	conv := conversation.NewStore("")
	return &Engine{
		sessions: cfg.Sessions,
		backends: cfg.Backends,
		index:    cfg.Index,
		bus:      cfg.Bus,
		status:   cfg.Status,
		logger:   cfg.Logger,
		now:      cfg.Now,
		timeout:  cfg.RequestTimeout,
		queue:    make(chan func(), 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		conv:     conv,
		ledger:   ledger.New(conv),
		dir:      directory.New(),
		refresh:  newDebouncer(cfg.Schedule, cfg.RefreshDelay),
	}
}

// Start runs the event loop.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	go e.run()
}

// Stop ends the event loop. It does not log out; call Logout first to get
// the offline announcement.
func (e *Engine) Stop() {
	select {
	case <-e.quit:
		return
	default:
	}
	e.cancel()
	close(e.quit)
	if e.started {
		<-e.done
	}
}

// Status returns the connectivity state.
func (e *Engine) Status() status.State {
	return e.status.Current()
}

// Bus returns the observer bus events are published on.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case f := <-e.queue:
			f()
		case <-e.quit:
			e.refresh.stopAll()
			return
		}
	}
}

// post queues f on the loop. It reports false once the engine has stopped.
func (e *Engine) post(f func()) bool {
	select {
	case e.queue <- f:
		return true
	case <-e.quit:
		return false
	}
}

type result[T any] struct {
	val T
	err error
}

// call runs f on the loop and waits for its result.
func call[T any](ctx context.Context, e *Engine, f func() (T, error)) (T, error) {
	var zero T
	res := make(chan result[T], 1)
	if !e.post(func() {
		v, err := f()
		res <- result[T]{v, err}
	}) {
		return zero, ErrStopped
	}
	select {
	case r := <-res:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.quit:
		return zero, ErrStopped
	}
}

// background starts fn off the loop with a bounded context. fn returns
// the closure to run back on the loop, or nil.
func (e *Engine) background(fn func(ctx context.Context) func()) {
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
		defer cancel()
		if apply := fn(ctx); apply != nil {
			e.post(apply)
		}
	}()
}

func (e *Engine) emit(kind string, payload any) {
	e.bus.Emit(kind, payload)
}
