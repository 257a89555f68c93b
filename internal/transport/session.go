// Package transport maintains the STOMP session to the chat broker.
//
// A Session subscribes to the user's queues and the public topic, announces
// the user online, and from then on republishes outbound payloads and hands
// inbound frames to per-channel handlers. When the connection drops, or a
// heartbeat is missed, it waits a fixed delay and reconnects with identical
// subscriptions.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Defaults for Config.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeat      = 4 * time.Second
)

// State is the connectivity of a Session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	default:
		return "closed"
	}
}

// Handler receives the body of one inbound frame.
type Handler func(body []byte)

// Config tunes a Session.
type Config struct {
	Host           string
	ReconnectDelay time.Duration
	Heartbeat      time.Duration
	// OnState is called on every connectivity change, from the session's
	// own goroutines. err is set for StateLost.
	OnState func(State, error)
}

func (c *Config) withDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Host == "" {
		c.Host = "/"
	}
}

// Session is one authenticated connection to the broker.
type Session struct {
	cfg    Config
	dialer Dialer
	logger *zap.Logger

	mu       sync.Mutex
	creds    chat.Credentials
	handlers map[wire.Channel]Handler
	order    []wire.Channel
	conn     *stomp.Conn
	lost     func()
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool

	// afterBatch runs in establish after each batch of subscriptions.
	afterBatch func()
}

// New returns an unconnected session.
func New(cfg Config, dialer Dialer, logger *zap.Logger) *Session {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		handlers: make(map[wire.Channel]Handler),
	}
}

// Subscribe registers h for channel. Channels registered before Connect are
// subscribed on every connection before the online announcement; a channel
// registered while connected is subscribed at once. Registering a channel
// again only swaps its handler.
func (s *Session) Subscribe(channel wire.Channel, h Handler) error {
	s.mu.Lock()
	_, known := s.handlers[channel]
	if !known {
		s.order = append(s.order, channel)
	}
	s.handlers[channel] = h
	conn, lost := s.conn, s.lost
	user := s.creds.Username
	s.mu.Unlock()

	if conn == nil || known {
		return nil
	}
	sub, err := conn.Subscribe(channel.Destination(user), stomp.AckAuto)
	if err != nil {
		return &chat.ConnectionError{Op: "subscribe", Err: err}
	}
	go s.pump(channel, sub, lost)
	return nil
}

// Connect makes the first connection attempt and starts the supervisor that
// keeps the session connected until Disconnect. A failed first attempt is
// returned as a *chat.ConnectionError; the supervisor keeps retrying.
func (s *Session) Connect(ctx context.Context, creds chat.Credentials) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.creds = creds
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	lost, err := s.establish(ctx)
	if err != nil {
		s.logger.Warn("initial connect failed", zap.Error(err))
		s.notify(StateLost, err)
	}
	go s.supervise(runCtx, lost)
	return err
}

// Connected reports whether a broker connection is currently up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Username returns the user the session authenticates as.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Username
}

// Publish sends payload as JSON to destination. It fails with a
// *chat.ConnectionError when no connection is up.
func (s *Session) Publish(ctx context.Context, destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", destination, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	conn, lost := s.conn, s.lost
	s.mu.Unlock()
	if conn == nil {
		return &chat.ConnectionError{Op: "publish", Err: chat.ErrNotConnected}
	}
	if err := conn.Send(destination, "application/json", body); err != nil {
		// A send only fails on a dead connection.
		lost()
		return &chat.ConnectionError{Op: "publish", Err: err}
	}
	return nil
}

// Disconnect announces the user offline, best effort, and tears the session
// down. The session cannot be reused.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	creds := s.creds
	s.mu.Unlock()

	offline := wire.Presence{Username: creds.Username, FullName: creds.FullName, Status: "OFFLINE"}
	if err := s.Publish(ctx, wire.DestDisconnectUser, offline); err != nil {
		s.logger.Debug("offline announcement not sent", zap.Error(err))
	}

	if cancel != nil {
		cancel()
	}
	s.teardown(ctx, true)

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.notify(StateClosed, nil)
	return nil
}

func (s *Session) supervise(ctx context.Context, lost <-chan struct{}) {
	defer close(s.done)
	for {
		if lost != nil {
			select {
			case <-lost:
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("connection lost, reconnecting", zap.Duration("delay", s.cfg.ReconnectDelay))
			s.teardown(ctx, false)
			s.notify(StateLost, &chat.ConnectionError{Op: "stomp", Err: errors.New("connection lost")})
		}

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		var err error
		lost, err = s.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("reconnect failed", zap.Error(err))
			s.notify(StateLost, err)
		}
	}
}

// establish dials, subscribes every registered channel and only then
// announces the user online. The returned channel closes when the
// connection is lost.
func (s *Session) establish(ctx context.Context) (<-chan struct{}, error) {
	s.notify(StateConnecting, nil)

	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	lost := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(lost) }) }

	raw, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, &chat.ConnectionError{Op: "dial", Err: err}
	}
	// go-stomp only reports a dead socket to subscriptions it has already
	// registered, so the stream itself signals loss on its first read error.
	rwc := &watchedConn{ReadWriteCloser: raw, onErr: signal}

	conn, err := stomp.Connect(rwc,
		stomp.ConnOpt.Host(s.cfg.Host),
		stomp.ConnOpt.HeartBeat(s.cfg.Heartbeat, s.cfg.Heartbeat),
		stomp.ConnOpt.DisconnectReceiptTimeout(s.cfg.Heartbeat),
		stomp.ConnOpt.Header("Authorization", "Bearer "+creds.Token),
	)
	if err != nil {
		_ = rwc.Close()
		return nil, &chat.ConnectionError{Op: "stomp", Err: err}
	}

	// Subscribe may register channels while this runs. s.conn is only set
	// once every channel in s.order is subscribed here; later ones see the
	// connection and subscribe themselves.
	subscribed := 0
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.MustDisconnect()
			return nil, &chat.ConnectionError{Op: "stomp", Err: errors.New("session closed")}
		}
		if subscribed == len(s.order) {
			s.conn = conn
			s.lost = signal
			s.mu.Unlock()
			break
		}
		channels := append([]wire.Channel(nil), s.order[subscribed:]...)
		s.mu.Unlock()

		for _, ch := range channels {
			dest := ch.Destination(creds.Username)
			sub, err := conn.Subscribe(dest, stomp.AckAuto)
			if err != nil {
				_ = conn.MustDisconnect()
				return nil, &chat.ConnectionError{Op: "subscribe", Err: fmt.Errorf("%s: %w", dest, err)}
			}
			go s.pump(ch, sub, signal)
		}
		subscribed += len(channels)
		if s.afterBatch != nil {
			s.afterBatch()
		}
	}

	online := wire.Presence{Username: creds.Username, FullName: creds.FullName, Status: "ONLINE"}
	if err := s.Publish(ctx, wire.DestAddUser, online); err != nil {
		s.teardown(ctx, false)
		return nil, err
	}

	s.logger.Info("connected", zap.String("user", creds.Username), zap.Int("subscriptions", subscribed))
	s.notify(StateConnected, nil)
	return lost, nil
}

func (s *Session) pump(ch wire.Channel, sub *stomp.Subscription, lost func()) {
	defer lost()
	for msg := range sub.C {
		if msg.Err != nil {
			s.logger.Debug("subscription ended", zap.String("channel", string(ch)), zap.Error(msg.Err))
			return
		}
		s.mu.Lock()
		h := s.handlers[ch]
		s.mu.Unlock()
		if h != nil {
			h(msg.Body)
		}
	}
}

// teardown drops the current connection. A graceful teardown waits for the
// broker's DISCONNECT receipt; a lost connection never sends one, so it is
// closed at once.
func (s *Session) teardown(ctx context.Context, graceful bool) {
	s.mu.Lock()
	conn := s.conn
	s.conn, s.lost = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if !graceful {
		_ = conn.MustDisconnect()
		return
	}

	done := make(chan struct{})
	go func() {
		_ = conn.Disconnect()
		close(done)
	}()
	// Disconnect gives up after the receipt timeout set in establish and
	// closes the socket itself; ctx only bounds how long the caller waits.
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// watchedConn calls onErr the first time a read fails.
type watchedConn struct {
	io.ReadWriteCloser
	onErr func()
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Read(p)
	if err != nil {
		c.onErr()
	}
	return n, err
}

func (s *Session) notify(state State, err error) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(state, err)
	}
}
