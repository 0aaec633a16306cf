// Package observe provides a listener registry where every registration is
// undone by the closure it returns.
package observe

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Registry fans a value out to registered listeners in registration order.
// A panicking listener is recovered and logged; the rest still run.
type Registry[T any] struct {
	name   string
	logger *slog.Logger

	mu    sync.RWMutex
	byID  map[uuid.UUID]func(T)
	order []uuid.UUID
}

// NewRegistry creates an empty registry. name is used in log lines only.
func NewRegistry[T any](name string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		name:   name,
		logger: logger,
		byID:   make(map[uuid.UUID]func(T)),
	}
}

// Add registers fn and returns a function that unregisters it.
// Calling the returned function more than once is a no-op.
func (r *Registry[T]) Add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	id := uuid.New()

	r.mu.Lock()
	r.byID[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Notify calls every listener with v. Listeners registered or removed while
// Notify runs take effect on the next call.
func (r *Registry[T]) Notify(v T) {
	r.mu.RLock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.byID[id])
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		r.call(fn, v)
	}
}

func (r *Registry[T]) call(fn func(T), v T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				"registry", r.name,
				"panic", rec,
			)
		}
	}()
	fn(v)
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear drops every listener.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[uuid.UUID]func(T))
	r.order = nil
}
