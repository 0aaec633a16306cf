package session

import (
	"time"
)

// EventKind identifies a session notification.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventReconnectScheduled
	EventReconnecting
	EventKicked
	EventGaveUp
	EventSessionExpiring
	EventTokenRotated
	EventError
	EventClosed
)

// String returns the string representation of an EventKind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnectScheduled:
		return "reconnect-scheduled"
	case EventReconnecting:
		return "reconnecting"
	case EventKicked:
		return "kicked"
	case EventGaveUp:
		return "gave-up"
	case EventSessionExpiring:
		return "session-expiring"
	case EventTokenRotated:
		return "token-rotated"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Token rotation sources.
const (
	SourceRenewal   = "renewal"
	SourceHeartbeat = "heartbeat"
)

// Event is delivered to OnEvent listeners. Fields that do not apply to a
// kind are zero.
type Event struct {
	Kind    EventKind
	At      time.Time
	Code    int           // close code (disconnected, closed)
	Reason  string        // close or kick reason
	Attempt int           // reconnect attempt (reconnect-scheduled, reconnecting, gave-up)
	Delay   time.Duration // reconnect-scheduled
	Source  string        // token-rotated
	Err     error         // error, session-expiring
}
