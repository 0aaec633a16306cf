package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/environment"
	"github.com/rickgao/imsession/internal/reconnect"
	"github.com/rickgao/imsession/internal/token"
)

// Config holds session timing and addressing.
type Config struct {
	Endpoint  connection.Endpoint
	PageURL   string                     // may carry ?token=
	Transport connection.TransportConfig // URL is filled in per connect
	Reconnect reconnect.Config

	HeartbeatInterval       time.Duration
	RenewalInterval         time.Duration
	RenewalInitialDelay     time.Duration
	RenewalThresholdMinutes int
	RequestTimeout          time.Duration

	// PingInterval enables socket-level pings; 0 disables them. A socket
	// with no pong for PingTimeout is dropped as abnormal.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:                connection.Endpoint{Protocol: "ws", Path: connection.DefaultPath},
		Transport:               connection.DefaultTransportConfig(),
		Reconnect:               reconnect.DefaultConfig(),
		HeartbeatInterval:       2 * time.Minute,
		RenewalInterval:         5 * time.Minute,
		RenewalInitialDelay:     time.Second,
		RenewalThresholdMinutes: 10,
		RequestTimeout:          10 * time.Second,
	}
}

// TokenAPI is the set of token endpoints the session calls. *api.Client
// implements it.
type TokenAPI interface {
	CheckTokenExpiry(ctx context.Context, token string) (int, error)
	RenewToken(ctx context.Context, oldToken string) (string, error)
	Heartbeat(ctx context.Context, token string) (string, error)
}

// Socket is one connection attempt. *connection.Transport implements it.
type Socket interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Ping() error
	LastPong() time.Time
	ReadyState() connection.ReadyState
	IsReady() bool
	Close() error
	Abort(reason string) error
}

// Dialer creates an unconnected Socket reporting through hooks.
type Dialer func(cfg connection.TransportConfig, hooks connection.Hooks, logger *slog.Logger) Socket

func dialTransport(cfg connection.TransportConfig, hooks connection.Hooks, logger *slog.Logger) Socket {
	return connection.NewTransport(cfg, hooks, logger)
}

// Watcher is implemented by probes that can report changes.
// *environment.Signals implements it.
type Watcher interface {
	Watch(fn func(environment.Change)) func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTokenStore sets where the token is persisted. Without it the token
// lives in memory only.
func WithTokenStore(store token.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithTokenAPI sets the renewal and heartbeat endpoints. Without it both
// background tasks are skipped.
func WithTokenAPI(a TokenAPI) Option {
	return func(o *Orchestrator) {
		o.api = a
	}
}

// WithProbe sets the environment probe. If it also implements Watcher, the
// session reconnects when the environment becomes usable again.
func WithProbe(p environment.Probe) Option {
	return func(o *Orchestrator) {
		o.probe = p
	}
}

// WithDialer replaces the websocket transport.
func WithDialer(d Dialer) Option {
	return func(o *Orchestrator) {
		o.dial = d
	}
}

// WithStrategy replaces the reconnect strategy built from Config.Reconnect.
func WithStrategy(s *reconnect.Strategy) Option {
	return func(o *Orchestrator) {
		o.strategy = s
	}
}
