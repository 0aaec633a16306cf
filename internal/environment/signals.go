// Package environment carries the page-visibility and network-online signals
// that the session consults before retrying.
package environment

import (
	"log/slog"
	"sync"

	"github.com/rickgao/imsession/internal/observe"
)

// Probe reports the environment at the moment of asking.
type Probe interface {
	PageHidden() bool
	Offline() bool
}

// Snapshot is the environment at one point in time.
type Snapshot struct {
	PageHidden bool
	Offline    bool
}

// Usable reports whether a connection attempt makes sense.
func (s Snapshot) Usable() bool {
	return !s.PageHidden && !s.Offline
}

// Change is delivered to watchers when a signal flips.
type Change struct {
	Previous Snapshot
	Current  Snapshot
}

// BecameUsable reports whether this change moved the environment from
// unusable to usable.
func (c Change) BecameUsable() bool {
	return !c.Previous.Usable() && c.Current.Usable()
}

// Signals is a Probe whose values are set by the host (a UI shell, an OS
// signal handler, a test).
type Signals struct {
	mu       sync.RWMutex
	snap     Snapshot
	watchers *observe.Registry[Change]
}

// NewSignals creates visible, online signals.
func NewSignals(logger *slog.Logger) *Signals {
	return &Signals{
		watchers: observe.NewRegistry[Change]("environment", logger),
	}
}

func (s *Signals) PageHidden() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.PageHidden
}

func (s *Signals) Offline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Offline
}

// Snapshot returns both signals at once.
func (s *Signals) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SetPageHidden updates page visibility and notifies watchers on change.
func (s *Signals) SetPageHidden(hidden bool) {
	s.update(func(snap *Snapshot) { snap.PageHidden = hidden })
}

// SetOffline updates network state and notifies watchers on change.
func (s *Signals) SetOffline(offline bool) {
	s.update(func(snap *Snapshot) { snap.Offline = offline })
}

// TogglePageHidden flips page visibility and returns the new value.
func (s *Signals) TogglePageHidden() bool {
	var now bool
	s.update(func(snap *Snapshot) {
		snap.PageHidden = !snap.PageHidden
		now = snap.PageHidden
	})
	return now
}

// ToggleOffline flips network state and returns the new value.
func (s *Signals) ToggleOffline() bool {
	var now bool
	s.update(func(snap *Snapshot) {
		snap.Offline = !snap.Offline
		now = snap.Offline
	})
	return now
}

// Watch registers fn for every change and returns an unregister function.
func (s *Signals) Watch(fn func(Change)) func() {
	return s.watchers.Add(fn)
}

func (s *Signals) update(apply func(*Snapshot)) {
	s.mu.Lock()
	prev := s.snap
	apply(&s.snap)
	cur := s.snap
	s.mu.Unlock()

	if prev != cur {
		s.watchers.Notify(Change{Previous: prev, Current: cur})
	}
}
