package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/stampcircle/stampd/internal/bus"
)

// State represents a daemon connectivity state.
type State string

const (
	Booting      State = "BOOTING"
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Online       State = "ONLINE"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Offline, Connecting, Error},
	Offline:      {Connecting, Error},
	Connecting:   {Syncing, Offline, Reconnecting, Error},
	Syncing:      {Online, Reconnecting, Degraded, Error},
	Online:       {Syncing, Reconnecting, Degraded, Offline, Error},
	Reconnecting: {Connecting, Degraded, Offline, Error},
	Degraded:     {Connecting, Reconnecting, Online, Error},
	Error:        {Booting},
}

// Machine tracks and enforces daemon connectivity state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Connected reports whether remote calls are worth attempting. Degraded
// counts: the data API may be reachable even when the realtime channel
// is not.
func (m *Machine) Connected() bool {
	switch m.Current() {
	case Syncing, Online, Degraded:
		return true
	}
	return false
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish("session.status_changed", StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
