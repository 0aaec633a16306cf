package session

import "errors"

var (
	// ErrSessionClosed is returned by Connect after a clean close until
	// Cleanup is called.
	ErrSessionClosed = errors.New("session closed")

	// ErrKicked is returned by Connect after a kick until Cleanup is called.
	ErrKicked = errors.New("session kicked")

	// ErrShutdown is returned by every method after Close.
	ErrShutdown = errors.New("orchestrator shut down")
)
