package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
)

type refreshTarget int

const (
	refreshContacts refreshTarget = iota
	refreshGroups
)

// debouncer collapses bursts of refresh requests into one per target. It is
// owned by the loop; fire runs on the scheduler's goroutine and must post.
// Each scheduled task carries a sequence number; only the live task may
// clear its target's slot.
type debouncer struct {
	schedule Scheduler
	delay    time.Duration
	seq      uint64
	pending  map[refreshTarget]scheduled
}

type scheduled struct {
	seq  uint64
	stop func() bool
}

func newDebouncer(schedule Scheduler, delay time.Duration) *debouncer {
	return &debouncer{
		schedule: schedule,
		delay:    delay,
		pending:  make(map[refreshTarget]scheduled),
	}
}

// trigger schedules fire for target, cancelling the one already waiting.
// fire receives the sequence number to hand back to fired.
func (d *debouncer) trigger(target refreshTarget, fire func(seq uint64)) {
	if prev, ok := d.pending[target]; ok {
		prev.stop()
	}
	d.seq++
	seq := d.seq
	d.pending[target] = scheduled{seq: seq, stop: d.schedule(d.delay, func() { fire(seq) })}
}

// fired reports whether seq is still the live task for target and, if so,
// clears it. A false result means the task was superseded.
func (d *debouncer) fired(target refreshTarget, seq uint64) bool {
	cur, ok := d.pending[target]
	if !ok || cur.seq != seq {
		return false
	}
	delete(d.pending, target)
	return true
}

func (d *debouncer) stopAll() {
	for target, p := range d.pending {
		p.stop()
		delete(d.pending, target)
	}
}

// deferRefresh schedules a debounced refresh of target.
func (e *Engine) deferRefresh(target refreshTarget) {
	gen := e.gen
	e.refresh.trigger(target, func(seq uint64) {
		e.post(func() {
			if !e.refresh.fired(target, seq) || gen != e.gen {
				return
			}
			switch target {
			case refreshContacts:
				e.refreshContacts(nil)
			case refreshGroups:
				e.refreshGroups(nil)
			}
		})
	})
}

// refreshContacts replaces the contact list with the server's. Only the
// latest request applies; done runs on the loop when this request settles.
func (e *Engine) refreshContacts(done func()) {
	if e.api == nil {
		return
	}
	e.contactsGen++
	gen, reqGen := e.gen, e.contactsGen
	api, self := e.api, e.creds.Username

	e.background(func(ctx context.Context) func() {
		contacts, err := api.Contacts(ctx, self)
		return func() {
			if gen != e.gen {
				return
			}
			if done != nil {
				defer done()
			}
			if err != nil {
				e.logger.Warn("contacts refresh failed", zap.Error(err))
				return
			}
			if reqGen != e.contactsGen {
				return
			}
			e.applyContacts(contacts)
		}
	})
}

func (e *Engine) applyContacts(contacts []chat.Contact) {
	var before chat.Presence
	if e.focus.Kind == chat.Direct {
		c, _ := e.dir.Contact(e.focus.ID)
		before = c.Presence
	}
	e.dir.ReplaceContacts(contacts)
	e.emit(bus.KindContacts, DirectoryUpdate{Count: len(contacts)})

	if e.focus.Kind == chat.Direct {
		if c, _ := e.dir.Contact(e.focus.ID); c.Presence != before {
			e.emit(bus.KindFocusChanged, FocusChange{Key: e.focus})
		}
	}
}

// refreshGroups replaces the group list with the server's.
func (e *Engine) refreshGroups(done func()) {
	if e.api == nil {
		return
	}
	e.groupsGen++
	gen, reqGen := e.gen, e.groupsGen
	api, self := e.api, e.creds.Username

	e.background(func(ctx context.Context) func() {
		groups, err := api.Groups(ctx, self)
		return func() {
			if gen != e.gen {
				return
			}
			if done != nil {
				defer done()
			}
			if err != nil {
				e.logger.Warn("groups refresh failed", zap.Error(err))
				return
			}
			if reqGen != e.groupsGen {
				return
			}
			e.dir.ReplaceGroups(groups)
			e.emit(bus.KindGroups, DirectoryUpdate{Count: len(groups)})
			e.mirrorTitles()
		}
	})
}

// fetchUndelivered merges the messages that arrived while the user was
// offline into their conversations.
func (e *Engine) fetchUndelivered(done func()) {
	if e.api == nil {
		return
	}
	gen := e.gen
	api, self := e.api, e.creds.Username

	e.background(func(ctx context.Context) func() {
		msgs, err := api.Undelivered(ctx, self)
		return func() {
			if gen != e.gen {
				return
			}
			if done != nil {
				defer done()
			}
			if err != nil {
				e.logger.Warn("undelivered fetch failed", zap.Error(err))
				return
			}
			if len(msgs) == 0 {
				return
			}
			perSender := make(map[string]int)
			for _, m := range msgs {
				perSender[m.SenderID]++
				e.reconcile(m)
			}
			for sender, n := range perSender {
				e.logger.Info("undelivered messages", zap.String("from", sender), zap.Int("count", n))
			}
		}
	})
}
