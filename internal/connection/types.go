package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStillConnecting = errors.New("connection still opening")
	ErrClosing         = errors.New("connection closing")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("connect already called")
)

// Close codes used by the session.
const (
	CloseNormal    = 1000
	CloseAbnormal  = 1006
	CloseNoStatus  = 1005
	CloseGoingAway = 1001
)

// ReadyState mirrors the four websocket ready states.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the string representation of a ReadyState.
func (r ReadyState) String() string {
	switch r {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Endpoint locates the socket server.
type Endpoint struct {
	Protocol string // "ws" or "wss"
	Host     string
	Port     string // empty omits the ":port" segment
	Path     string // defaults to "/socket"
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	URL              string        // full socket URL, see BuildURL
	HandshakeTimeout time.Duration // dial + upgrade deadline
	WriteTimeout     time.Duration // write deadline for sends
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 4 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Message is an inbound payload with its local receive timestamp.
type Message struct {
	Data       []byte
	Binary     bool
	ReceivedAt time.Time
}
