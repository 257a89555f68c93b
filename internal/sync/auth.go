package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Account is what Login needs. With a Token the session connects directly;
// with only a Password the engine logs in first.
type Account struct {
	Username string
	FullName string
	Token    string
	Password string
}

// Login authenticates, replaces any current session and connects. A
// *chat.ConnectionError from the first attempt is returned but is not
// fatal: the session keeps reconnecting on its own. The returned
// credentials carry the token in use.
func (e *Engine) Login(ctx context.Context, acct Account) (chat.Credentials, error) {
	if acct.Username == "" {
		return chat.Credentials{}, errors.New("username is required")
	}
	if err := e.Logout(ctx); err != nil {
		return chat.Credentials{}, err
	}

	creds := chat.Credentials{Username: acct.Username, FullName: acct.FullName, Token: acct.Token}
	if creds.Token == "" {
		if acct.Password == "" {
			return chat.Credentials{}, errors.New("a token or a password is required")
		}
		e.transition(status.Authenticating)
		issued, err := e.backends("").Login(ctx, acct.Username, acct.Password)
		if err != nil {
			e.transition(status.Idle)
			return chat.Credentials{}, err
		}
		creds.Token = issued.Token
		if issued.FullName != "" {
			creds.FullName = issued.FullName
		}
		e.logger.Info("logged in", zap.String("user", creds.Username))
	}

	sess, err := call(ctx, e, func() (Session, error) {
		return e.install(creds)
	})
	if err != nil {
		return chat.Credentials{}, err
	}
	return creds, sess.Connect(ctx, creds)
}

// Logout announces the user offline, tears the session down and clears
// every conversation and directory entry. It is a no-op when logged out.
func (e *Engine) Logout(ctx context.Context) error {
	old, err := call(ctx, e, func() (Session, error) {
		return e.detach(), nil
	})
	if err != nil || old == nil {
		return err
	}
	if err := old.Disconnect(ctx); err != nil {
		e.logger.Warn("disconnect failed", zap.Error(err))
	}
	return nil
}

// Credentials returns the credentials of the current session.
func (e *Engine) Credentials(ctx context.Context) (chat.Credentials, error) {
	return call(ctx, e, func() (chat.Credentials, error) {
		return e.creds, nil
	})
}

// install runs on the loop. It wires a new session to this loop, tagging
// every callback with the session generation so late callbacks from a
// replaced session are ignored.
func (e *Engine) install(creds chat.Credentials) (Session, error) {
	e.gen++
	gen := e.gen
	e.creds = creds
	e.api = e.backends(creds.Token)
	e.conv.Reset(creds.Username)
	e.ledger.Reset()
	e.dir.Clear()
	e.focus = chat.ConversationKey{}
	e.syncing = 0

	sess := e.sessions(func(st transport.State, err error) {
		e.post(func() {
			if gen == e.gen {
				e.onState(st, err)
			}
		})
	})
	handlers := map[wire.Channel]func([]byte){
		wire.ChannelMessages:      e.onDirect,
		wire.ChannelStatus:        e.onStatus,
		wire.ChannelGroupMessages: e.onGroup,
		wire.ChannelGroupUpdates:  e.onGroupUpdate,
		wire.ChannelPublic:        e.onPublic,
	}
	for _, ch := range wire.Channels {
		h := handlers[ch]
		if err := sess.Subscribe(ch, func(body []byte) {
			e.post(func() {
				if gen == e.gen {
					h(body)
				}
			})
		}); err != nil {
			return nil, err
		}
	}
	e.session = sess
	return sess, nil
}

// detach runs on the loop and returns the session it dropped.
func (e *Engine) detach() Session {
	old := e.session
	if old == nil && e.creds.Username == "" {
		return nil
	}
	e.gen++
	e.session = nil
	e.api = nil
	e.creds = chat.Credentials{}
	e.conv.Reset("")
	e.ledger.Reset()
	e.dir.Clear()
	e.refresh.stopAll()
	e.syncing = 0
	if e.focus != (chat.ConversationKey{}) {
		e.focus = chat.ConversationKey{}
		e.emit(bus.KindFocusChanged, FocusChange{})
	}
	e.transition(status.Idle)
	return old
}

// onState maps transport connectivity onto the status machine.
func (e *Engine) onState(st transport.State, err error) {
	switch st {
	case transport.StateConnecting:
		e.transition(status.Connecting)
	case transport.StateConnected:
		e.transition(status.Syncing)
		e.syncOnConnect()
	case transport.StateLost:
		e.logger.Warn("connection lost", zap.Error(err))
		e.syncing = 0
		e.transition(status.Reconnecting)
	case transport.StateClosed:
		e.transition(status.Idle)
	}
}

// syncOnConnect loads the directory and the undelivered backlog. The
// status moves to Online once all three have answered.
func (e *Engine) syncOnConnect() {
	e.syncEpoch++
	epoch := e.syncEpoch
	e.syncing = 3
	done := func() {
		if epoch != e.syncEpoch || e.syncing == 0 {
			return
		}
		e.syncing--
		if e.syncing == 0 && e.status.Current() == status.Syncing {
			e.transition(status.Online)
		}
	}
	e.refreshContacts(done)
	e.refreshGroups(done)
	e.fetchUndelivered(done)
}

func (e *Engine) transition(to status.State) {
	if err := e.status.Transition(to); err != nil {
		e.logger.Debug("status transition skipped", zap.Error(err))
	}
}

// connected runs on the loop.
func (e *Engine) connected() error {
	if e.session == nil {
		return &chat.ConnectionError{Op: "publish", Err: ErrNotLoggedIn}
	}
	if !e.session.Connected() {
		return &chat.ConnectionError{Op: "publish", Err: chat.ErrNotConnected}
	}
	return nil
}
