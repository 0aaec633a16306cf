// Package timers implements a named timer registry.
//
// Every delayed or periodic side effect of a session is scheduled here, so a
// single ClearAll at teardown guarantees nothing fires afterwards:
//   - registering a name that already exists replaces the old timer
//   - a cleared or replaced timer never runs its callback, even if its
//     underlying time.Timer had already expired
//   - callbacks can be routed through an Executor (the session event loop)
package timers
