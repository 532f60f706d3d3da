package status

import (
	"testing"

	"github.com/stampcircle/stampd/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Offline},
		{Booting, Connecting},
		{Booting, Error},
		{Offline, Connecting},
		{Connecting, Syncing},
		{Syncing, Online},
		{Online, Reconnecting},
		{Reconnecting, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("Transition(BOOTING -> ONLINE) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Offline); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Offline {
		t.Errorf("change = %v -> %v, want BOOTING -> OFFLINE", change.From, change.To)
	}
}

// TestOfflineToOnlineRequiresSync verifies that a reconnect cannot jump
// straight to ONLINE: the reconnect burst (SYNCING) must run first so
// queued offline mutations get pushed before the daemon reports healthy.
func TestOfflineToOnlineRequiresSync(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Offline)
	_ = m.Transition(Connecting)

	if err := m.Transition(Online); err == nil {
		t.Fatal("Transition(CONNECTING -> ONLINE) should fail; must go through SYNCING first")
	}
	if m.Current() != Connecting {
		t.Errorf("state = %s, want CONNECTING (should not have changed)", m.Current())
	}

	if err := m.Transition(Syncing); err != nil {
		t.Fatalf("CONNECTING -> SYNCING: %v", err)
	}
	if err := m.Transition(Online); err != nil {
		t.Fatalf("SYNCING -> ONLINE: %v", err)
	}
}

// TestColdStartLifecycle simulates a first boot with connectivity:
// BOOTING → CONNECTING → SYNCING → ONLINE
func TestColdStartLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Syncing, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Online {
		t.Errorf("final state = %s, want ONLINE", m.Current())
	}
}

// TestOfflineStartLifecycle simulates booting without a network:
// BOOTING → OFFLINE → CONNECTING → SYNCING → ONLINE
func TestOfflineStartLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Offline, Connecting, Syncing, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestDisconnectReconnectCycle verifies the reconnect loop:
// ONLINE → RECONNECTING → CONNECTING → SYNCING → ONLINE
func TestDisconnectReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Online)

	steps := []State{Reconnecting, Connecting, Syncing, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestConnected(t *testing.T) {
	m := NewMachine(nil)
	if m.Connected() {
		t.Error("BOOTING should not report connected")
	}
	walkTo(t, m, Syncing)
	if !m.Connected() {
		t.Error("SYNCING should report connected")
	}
	_ = m.Transition(Online)
	if !m.Connected() {
		t.Error("ONLINE should report connected")
	}
	_ = m.Transition(Degraded)
	if !m.Connected() {
		t.Error("DEGRADED should report connected")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		Offline:      {Offline},
		Connecting:   {Offline, Connecting},
		Syncing:      {Connecting, Syncing},
		Online:       {Connecting, Syncing, Online},
		Reconnecting: {Connecting, Syncing, Online, Reconnecting},
		Degraded:     {Connecting, Syncing, Degraded},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
