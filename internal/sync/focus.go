package sync

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
)

// snapshot is what an operation captures from the loop before it goes to
// the network.
type snapshot struct {
	api  Backend
	self string
	gen  uint64
}

func (e *Engine) snapshot(ctx context.Context) (snapshot, error) {
	return call(ctx, e, func() (snapshot, error) {
		if e.api == nil {
			return snapshot{}, ErrNotLoggedIn
		}
		return snapshot{api: e.api, self: e.creds.Username, gen: e.gen}, nil
	})
}

// Focus returns the focused conversation. A zero key means none.
func (e *Engine) Focus(ctx context.Context) (chat.ConversationKey, error) {
	return call(ctx, e, func() (chat.ConversationKey, error) {
		return e.focus, nil
	})
}

// ClearFocus unfocuses the current conversation.
func (e *Engine) ClearFocus(ctx context.Context) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		e.setFocus(chat.ConversationKey{})
		return struct{}{}, nil
	})
	return err
}

func (e *Engine) setFocus(key chat.ConversationKey) {
	if e.focus == key {
		return
	}
	e.focus = key
	e.emit(bus.KindFocusChanged, FocusChange{Key: key})
}

// SelectDirect focuses the conversation with peer, zeroes its unread count
// and loads its history. When the history holds a message from peer that is
// not read yet, a read notification is published. It returns the
// conversation after the merge.
func (e *Engine) SelectDirect(ctx context.Context, peer string) ([]*chat.Message, error) {
	if peer == "" {
		return nil, errors.New("peer is required")
	}
	key := chat.DirectKey(peer)
	snap, err := e.focusOn(ctx, key)
	if err != nil {
		return nil, err
	}

	history, err := snap.api.DirectHistory(ctx, snap.self, peer)
	if err != nil {
		e.logger.Warn("history fetch failed", zap.String("peer", peer), zap.Error(err))
		return nil, err
	}
	return call(ctx, e, func() ([]*chat.Message, error) {
		if snap.gen != e.gen {
			return nil, ErrNotLoggedIn
		}
		e.mergeHistory(key, history)
		if unreadFrom(history, peer) {
			e.sendRead(peer)
		}
		return e.conv.Messages(key), nil
	})
}

// SelectGroup focuses a group, zeroes its unread count and loads its
// history. The group is marked read on the server when the history holds a
// message from another member that is not read yet.
func (e *Engine) SelectGroup(ctx context.Context, groupID string) ([]*chat.Message, error) {
	if groupID == "" {
		return nil, errors.New("group id is required")
	}
	key := chat.GroupKey(groupID)
	snap, err := e.focusOn(ctx, key)
	if err != nil {
		return nil, err
	}

	history, err := snap.api.GroupHistory(ctx, groupID, snap.self)
	if err != nil {
		e.logger.Warn("group history fetch failed", zap.String("group", groupID), zap.Error(err))
		return nil, err
	}
	msgs, err := call(ctx, e, func() ([]*chat.Message, error) {
		if snap.gen != e.gen {
			return nil, ErrNotLoggedIn
		}
		e.mergeHistory(key, history)
		return e.conv.Messages(key), nil
	})
	if err != nil {
		return nil, err
	}

	if unreadFromOthers(history, snap.self) {
		if err := snap.api.MarkGroupRead(ctx, groupID, snap.self); err != nil {
			e.logger.Warn("mark group read failed", zap.String("group", groupID), zap.Error(err))
		}
	}
	return msgs, nil
}

func (e *Engine) focusOn(ctx context.Context, key chat.ConversationKey) (snapshot, error) {
	return call(ctx, e, func() (snapshot, error) {
		if e.api == nil {
			return snapshot{}, ErrNotLoggedIn
		}
		e.setFocus(key)
		switch key.Kind {
		case chat.Group:
			if e.dir.ZeroGroup(key.ID) {
				e.emit(bus.KindGroups, DirectoryUpdate{Count: len(e.dir.Groups()), Local: true})
			}
		default:
			if e.dir.ZeroContact(key.ID) {
				e.emit(bus.KindContacts, DirectoryUpdate{Count: len(e.dir.Contacts()), Local: true})
			}
		}
		return snapshot{api: e.api, self: e.creds.Username, gen: e.gen}, nil
	})
}

func (e *Engine) mergeHistory(key chat.ConversationKey, history []*chat.Message) {
	e.conv.MergeHistory(key, history)
	if key.Kind == chat.Direct {
		for _, m := range history {
			if id, ok := m.ID(); ok {
				e.ledger.Settle(id)
			}
		}
	}
	// Mirror the live entries; merging and settling may have moved them
	// past the fetched copies.
	e.mirror(key, e.conv.Messages(key)...)
	e.emit(bus.KindConversationUpdated, ConversationUpdate{Key: key, Reason: "history"})
}

func unreadFrom(msgs []*chat.Message, sender string) bool {
	return slices.ContainsFunc(msgs, func(m *chat.Message) bool {
		return m.SenderID == sender && m.Status != chat.StatusRead
	})
}

func unreadFromOthers(msgs []*chat.Message, self string) bool {
	return slices.ContainsFunc(msgs, func(m *chat.Message) bool {
		return m.SenderID != self && m.Status != chat.StatusRead
	})
}

// LeaveGroup leaves a group, unfocuses it if focused and refreshes groups.
func (e *Engine) LeaveGroup(ctx context.Context, groupID string) error {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := snap.api.LeaveGroup(ctx, groupID, snap.self); err != nil {
		e.logger.Warn("leave group failed", zap.String("group", groupID), zap.Error(err))
		return err
	}
	_, err = call(ctx, e, func() (struct{}, error) {
		if snap.gen != e.gen {
			return struct{}{}, nil
		}
		if e.focus == chat.GroupKey(groupID) {
			e.setFocus(chat.ConversationKey{})
		}
		e.refreshGroups(nil)
		return struct{}{}, nil
	})
	return err
}

// CreateGroup creates a group owned by the local user and refreshes groups.
func (e *Engine) CreateGroup(ctx context.Context, name, description string, memberIDs []string) (chat.GroupInfo, error) {
	if name == "" {
		return chat.GroupInfo{}, errors.New("group name is required")
	}
	snap, err := e.snapshot(ctx)
	if err != nil {
		return chat.GroupInfo{}, err
	}
	g, err := snap.api.CreateGroup(ctx, snap.self, name, description, memberIDs)
	if err != nil {
		e.logger.Warn("create group failed", zap.String("name", name), zap.Error(err))
		return chat.GroupInfo{}, err
	}
	e.post(func() {
		if snap.gen == e.gen {
			e.refreshGroups(nil)
		}
	})
	return g, nil
}

// SearchUsers queries the server's user directory.
func (e *Engine) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.api.SearchUsers(ctx, query)
}

// Contacts returns the contact directory.
func (e *Engine) Contacts(ctx context.Context) ([]chat.Contact, error) {
	return call(ctx, e, func() ([]chat.Contact, error) {
		return e.dir.Contacts(), nil
	})
}

// Groups returns the group directory.
func (e *Engine) Groups(ctx context.Context) ([]chat.GroupInfo, error) {
	return call(ctx, e, func() ([]chat.GroupInfo, error) {
		return e.dir.Groups(), nil
	})
}

// Messages returns copies of the messages of one conversation in arrival
// order.
func (e *Engine) Messages(ctx context.Context, key chat.ConversationKey) ([]*chat.Message, error) {
	return call(ctx, e, func() ([]*chat.Message, error) {
		return e.conv.Messages(key), nil
	})
}
