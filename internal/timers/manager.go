package timers

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Names of the timers registered by a session.
const (
	Reconnect       = "reconnect"
	Heartbeat       = "heartbeat"
	TokenRenewal    = "tokenRenewal"
	TokenRenewalNow = "tokenRenewalNow"
	SocketPing      = "heartbeatWs"
)

// Kind distinguishes one-shot timers from interval timers.
type Kind int

const (
	OneShot Kind = iota
	Interval
)

func (k Kind) String() string {
	if k == Interval {
		return "interval"
	}
	return "one-shot"
}

// Handle identifies one registration. A name reused later gets a new Handle.
type Handle uint64

// Entry describes a registered timer.
type Entry struct {
	Name      string
	Handle    Handle
	Kind      Kind
	Delay     time.Duration
	CreatedAt time.Time
}

// Executor runs a timer callback. The default executor calls it directly on
// the timer goroutine.
type Executor func(func())

type timer struct {
	Entry
	callback func()
	stop     func()
}

// Manager is a registry of named timers. It is safe for concurrent use.
type Manager struct {
	logger *slog.Logger
	exec   Executor
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*timer
	next   Handle
}

// Option configures a Manager.
type Option func(*Manager)

// WithExecutor routes every callback through exec.
func WithExecutor(exec Executor) Option {
	return func(m *Manager) {
		m.exec = exec
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty timer registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.Default(),
		exec:   func(fn func()) { fn() },
		now:    time.Now,
		timers: make(map[string]*timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Set registers callback under name, replacing any timer already using it.
// A one-shot timer fires once after delay; an interval timer fires every delay
// until cleared.
func (m *Manager) Set(name string, callback func(), delay time.Duration, kind Kind) Handle {
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked(name)

	m.next++
	t := &timer{
		Entry: Entry{
			Name:      name,
			Handle:    m.next,
			Kind:      kind,
			Delay:     delay,
			CreatedAt: m.now(),
		},
		callback: callback,
	}

	handle := t.Handle
	fire := func() {
		m.exec(func() { m.fire(name, handle) })
	}

	if kind == Interval && delay > 0 {
		ticker := time.NewTicker(delay)
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					fire()
				}
			}
		}()
		t.stop = func() {
			ticker.Stop()
			close(done)
		}
	} else {
		tm := time.AfterFunc(delay, fire)
		t.stop = func() { tm.Stop() }
	}

	m.timers[name] = t

	m.logger.Debug("timer set",
		"name", name,
		"kind", kind,
		"delay", delay,
	)

	return handle
}

// After registers a one-shot timer.
func (m *Manager) After(name string, callback func(), delay time.Duration) Handle {
	return m.Set(name, callback, delay, OneShot)
}

// Every registers an interval timer.
func (m *Manager) Every(name string, callback func(), interval time.Duration) Handle {
	return m.Set(name, callback, interval, Interval)
}

// fire runs the callback if the registration identified by handle is still
// live. One-shot timers are removed before their callback runs.
func (m *Manager) fire(name string, handle Handle) {
	m.mu.Lock()
	t, ok := m.timers[name]
	if !ok || t.Handle != handle {
		m.mu.Unlock()
		return
	}
	if t.Kind == OneShot || t.Delay == 0 {
		delete(m.timers, name)
	}
	callback := t.callback
	m.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Clear cancels and removes the named timer. It reports whether one existed.
func (m *Manager) Clear(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(name)
}

func (m *Manager) clearLocked(name string) bool {
	t, ok := m.timers[name]
	if !ok {
		return false
	}
	t.stop()
	delete(m.timers, name)
	m.logger.Debug("timer cleared", "name", name)
	return true
}

// ClearAll cancels every timer and leaves the registry empty.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.timers) > 0 {
		m.logger.Debug("clearing all timers", "count", len(m.timers))
	}
	for name, t := range m.timers {
		t.stop()
		delete(m.timers, name)
	}
}

// Has reports whether name is registered.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// Get returns the entry registered under name.
func (m *Manager) Get(name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		return Entry{}, false
	}
	return t.Entry, true
}

// Names returns the registered names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.timers))
	for name := range m.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the number of registered timers.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Runtime returns how long the named timer has been registered, or 0.
func (m *Manager) Runtime(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		return 0
	}
	return m.now().Sub(t.CreatedAt)
}
