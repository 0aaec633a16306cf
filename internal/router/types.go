package router

import "github.com/rickgao/imsession/internal/inbox"

// Config holds initial capacities for the router's queues. They grow on
// demand.
type Config struct {
	InputBufferSize   int // Default: 256
	PrivateBufferSize int // Default: 256
	GroupBufferSize   int // Default: 256
	SystemBufferSize  int // Default: 64
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		InputBufferSize:   256,
		PrivateBufferSize: 256,
		GroupBufferSize:   256,
		SystemBufferSize:  64,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Dropped     int64
	Private     inbox.Stats
	Group       inbox.Stats
	System      inbox.Stats
}
