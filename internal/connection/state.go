package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/imsession/internal/observe"
)

// State is the lifecycle state of a session's connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// Closed is terminal: no transition leaves it. Only Reset does.
	Closed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the states reachable from each state.
// Disconnected -> Reconnecting is the path a scheduled retry takes after a
// close has already moved the machine to Disconnected.
var transitions = map[State][]State{
	Disconnected: {Connecting, Reconnecting, Closed},
	Connecting:   {Connected, Reconnecting, Disconnected, Closed},
	Connected:    {Disconnected, Reconnecting, Closed},
	Reconnecting: {Connecting, Disconnected, Closed},
	Closed:       {},
}

// Metadata is per-session bookkeeping updated on every transition.
// Zero times mean "never".
type Metadata struct {
	ReconnectAttempts  int
	LastConnectionTime time.Time
	LastDisconnectTime time.Time
	DisconnectReason   string
}

// Transition is delivered to state listeners.
type Transition struct {
	From     State
	To       State
	Reason   string
	At       time.Time
	Metadata Metadata
}

// StateMachine enforces the transition table and keeps Metadata.
// It is safe for concurrent use; listeners run outside its lock.
type StateMachine struct {
	logger    *slog.Logger
	now       func() time.Time
	listeners *observe.Registry[Transition]

	mu    sync.RWMutex
	state State
	meta  Metadata
}

// NewStateMachine creates a machine in Disconnected.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		logger:    logger,
		now:       time.Now,
		listeners: observe.NewRegistry[Transition]("state", logger),
		state:     Disconnected,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Is reports whether the machine is in s.
func (m *StateMachine) Is(s State) bool {
	return m.State() == s
}

// CanTransitionTo reports whether the table allows moving to s.
func (m *StateMachine) CanTransitionTo(s State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return allowed(m.state, s)
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to next. It returns false without side effects when next
// equals the current state or the table forbids the move.
func (m *StateMachine) Transition(next State, reason string) bool {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		m.logger.Debug("already in state", "state", next)
		return false
	}
	if !allowed(prev, next) {
		m.mu.Unlock()
		m.logger.Warn("transition rejected",
			"from", prev,
			"to", next,
			"reason", reason,
		)
		return false
	}

	now := m.now()
	m.state = next
	m.applyMetadata(next, reason, now)
	tr := Transition{
		From:     prev,
		To:       next,
		Reason:   reason,
		At:       now,
		Metadata: m.meta,
	}
	m.mu.Unlock()

	m.logger.Info("state changed",
		"from", prev,
		"to", next,
		"reason", reason,
		"attempts", tr.Metadata.ReconnectAttempts,
	)

	m.listeners.Notify(tr)
	return true
}

// applyMetadata updates bookkeeping for entering next. Caller holds mu.
func (m *StateMachine) applyMetadata(next State, reason string, now time.Time) {
	switch next {
	case Connected:
		m.meta.LastConnectionTime = now
		m.meta.ReconnectAttempts = 0
	case Disconnected, Reconnecting:
		m.meta.LastDisconnectTime = now
		m.meta.DisconnectReason = reason
		if next == Reconnecting {
			m.meta.ReconnectAttempts++
		}
	case Closed:
		m.meta.ReconnectAttempts = 0
		m.meta.DisconnectReason = reason
	}
}

// Metadata returns a copy of the bookkeeping.
func (m *StateMachine) Metadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// ReconnectAttempts returns the current attempt counter.
func (m *StateMachine) ReconnectAttempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta.ReconnectAttempts
}

// ResetReconnectAttempts zeroes the attempt counter without a transition.
func (m *StateMachine) ResetReconnectAttempts() {
	m.mu.Lock()
	m.meta.ReconnectAttempts = 0
	m.mu.Unlock()
}

// ConnectionDuration returns how long the last connection lived: 0 if never
// connected, up to now while still connected.
func (m *StateMachine) ConnectionDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := m.meta.LastConnectionTime
	if start.IsZero() {
		return 0
	}
	end := m.meta.LastDisconnectTime
	if end.IsZero() || end.Before(start) {
		end = m.now()
	}
	return end.Sub(start)
}

// OnStateChange registers fn for every successful transition and returns a
// function that unregisters it.
func (m *StateMachine) OnStateChange(fn func(Transition)) func() {
	return m.listeners.Add(fn)
}

// Reset returns to Disconnected with empty metadata. Listeners are kept and
// are not notified.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	m.state = Disconnected
	m.meta = Metadata{}
	m.mu.Unlock()
}
