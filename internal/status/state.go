package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the connectivity of the chat session as shown to observers.
type State string

const (
	Idle           State = "IDLE"
	Authenticating State = "AUTHENTICATING"
	Connecting     State = "CONNECTING"
	Syncing        State = "SYNCING"
	Online         State = "ONLINE"
	Reconnecting   State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. Logout returns to
// Idle from anywhere.
var validTransitions = map[State][]State{
	Idle:           {Authenticating, Connecting},
	Authenticating: {Connecting, Idle},
	Connecting:     {Syncing, Reconnecting, Idle},
	Syncing:        {Online, Reconnecting, Idle},
	Online:         {Reconnecting, Idle},
	Reconnecting:   {Connecting, Idle},
}

// Machine tracks and enforces connectivity transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the session is connected, syncing included.
func (m *Machine) Online() bool {
	switch m.Current() {
	case Syncing, Online:
		return true
	}
	return false
}

// Transition moves to a new state. Moving to the current state is a no-op;
// any other transition not in the table is an error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
