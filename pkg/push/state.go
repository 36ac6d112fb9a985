package push

import (
	"fmt"
	"sync"
	"time"
)

// Stage names one protocol step.
type Stage string

const (
	StageCheck  Stage = "check"
	StageCommit Stage = "commit"
	StageVerify Stage = "verify"
	StageReplay Stage = "replay"
)

// State is a device's position in the push protocol.
type State string

const (
	StateChecking   State = "checking"
	StateCommitting State = "committing"
	StateVerifying  State = "verifying"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateChecking:   {StateCommitting, StateDone},
	StateCommitting: {StateVerifying, StateDone},
	StateVerifying:  {StateDone},
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Machine tracks one device through Checking, Committing, Verifying and
// Done. Failed is reachable from any non-terminal state.
type Machine struct {
	mu      sync.Mutex
	device  string
	state   State
	history []Transition
	noOp    bool
}

// NewMachine starts a device in Checking.
func NewMachine(device string) *Machine {
	return &Machine{device: device, state: StateChecking}
}

// Device returns the device the machine tracks.
func (m *Machine) Device() string { return m.device }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NoOp reports whether the device finished as an idempotent no-op.
func (m *Machine) NoOp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noOp
}

// MarkNoOp records that the device already held the desired state.
func (m *Machine) MarkNoOp() {
	m.mu.Lock()
	m.noOp = true
	m.mu.Unlock()
}

// To moves to the next state, rejecting transitions the protocol forbids.
func (m *Machine) To(next State, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return fmt.Errorf("%s: already %s, cannot move to %s", m.device, m.state, next)
	}
	if next != StateFailed && !allowed(m.state, next) {
		return fmt.Errorf("%s: invalid transition %s -> %s", m.device, m.state, next)
	}
	m.history = append(m.history, Transition{From: m.state, To: next, At: time.Now(), Note: note})
	m.state = next
	return nil
}

// Fail moves to Failed unless already terminal.
func (m *Machine) Fail(note string) {
	_ = m.To(StateFailed, note)
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
