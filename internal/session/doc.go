// Package session coordinates one IM connection: it owns the timers, the
// reconnect policy, the state machine and the current transport, and keeps
// the session token alive through renewal and heartbeat calls.
//
// All session state is confined to a single event-loop goroutine. Transport
// hooks, timer fires and HTTP results are posted into that loop and handled
// one at a time, in arrival order. Public methods post a closure and wait for
// it. Notifications to callers are delivered from a separate dispatcher
// goroutine, so a listener may call back into the Orchestrator.
package session
