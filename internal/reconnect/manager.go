package reconnect

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/imsession/internal/timers"
)

// Outcome is the result of a Schedule call.
type Outcome int

const (
	// Scheduled means a reconnect timer is pending.
	Scheduled Outcome = iota
	// Suppressed means policy declined to retry (hidden, offline, clean close).
	Suppressed
	// GaveUp means the retry budget is exhausted.
	GaveUp
	// Kicked means the duplicate-login heuristic tripped; OnKicked was called.
	Kicked
)

func (o Outcome) String() string {
	switch o {
	case Scheduled:
		return "scheduled"
	case Suppressed:
		return "suppressed"
	case GaveUp:
		return "gave_up"
	case Kicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Decision describes what Schedule did.
type Decision struct {
	Outcome Outcome
	Attempt int
	Delay   time.Duration // set when Outcome == Scheduled
	Reason  StopReason    // set when Outcome is Suppressed or GaveUp
}

// Scheduled reports whether a reconnect timer was registered.
func (d Decision) Scheduled() bool {
	return d.Outcome == Scheduled
}

// Manager keeps at most one pending reconnect, registered under
// timers.Reconnect.
type Manager struct {
	strategy *Strategy
	timers   *timers.Manager
	logger   *slog.Logger

	mu          sync.Mutex
	onReconnect func(attempt int)
}

// NewManager creates a Manager. A nil strategy uses DefaultConfig.
func NewManager(strategy *Strategy, tm *timers.Manager, logger *slog.Logger) *Manager {
	if strategy == nil {
		strategy = NewStrategy(DefaultConfig())
	}
	if tm == nil {
		tm = timers.NewManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		strategy: strategy,
		timers:   tm,
		logger:   logger,
	}
}

// Strategy returns the policy in use.
func (m *Manager) Strategy() *Strategy {
	return m.strategy
}

// OnReconnect sets the callback run when the reconnect timer fires.
// The last registration wins.
func (m *Manager) OnReconnect(fn func(attempt int)) {
	m.mu.Lock()
	m.onReconnect = fn
	m.mu.Unlock()
}

// Schedule registers a reconnect for attempt if policy allows it.
// A detected duplicate login calls c.OnKicked and is never retried.
func (m *Manager) Schedule(attempt int, c Context) Decision {
	if reason := m.strategy.StopReason(attempt, c); reason != StopNone {
		outcome := Suppressed
		if reason == StopMaxAttempts {
			outcome = GaveUp
		}
		m.logger.Info("reconnect not scheduled",
			"attempt", attempt,
			"reason", string(reason),
		)
		return Decision{Outcome: outcome, Attempt: attempt, Reason: reason}
	}

	if m.strategy.DetectDuplicateConnection(attempt, c.ConnectionDuration) {
		m.logger.Warn("possible duplicate login detected",
			"attempt", attempt,
			"connection_duration", c.ConnectionDuration,
		)
		if c.OnKicked != nil {
			c.OnKicked()
		}
		return Decision{Outcome: Kicked, Attempt: attempt, Reason: StopKicked}
	}

	delay := m.strategy.Delay(attempt, c.ConnectionDuration)

	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"delay", delay,
	)

	m.timers.After(timers.Reconnect, func() {
		m.mu.Lock()
		fn := m.onReconnect
		m.mu.Unlock()
		if fn != nil {
			fn(attempt)
		}
	}, delay)

	return Decision{Outcome: Scheduled, Attempt: attempt, Delay: delay}
}

// Cancel drops a pending reconnect. It reports whether one was pending.
func (m *Manager) Cancel() bool {
	cancelled := m.timers.Clear(timers.Reconnect)
	if cancelled {
		m.logger.Debug("reconnect cancelled")
	}
	return cancelled
}

// Pending reports whether a reconnect timer is registered.
func (m *Manager) Pending() bool {
	return m.timers.Has(timers.Reconnect)
}
