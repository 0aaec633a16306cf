package config

import (
	"log/slog"
	"strings"
	"time"
)

// ClientConfig is the root configuration for an IM client instance.
type ClientConfig struct {
	Instance  InstanceConfig  `yaml:"instance" toml:"instance"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	PageURL   string          `yaml:"page_url" toml:"page_url"` // may carry ?token=
	Token     TokenConfig     `yaml:"token" toml:"token"`
	Database  DBConfig        `yaml:"database" toml:"database"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Journal   JournalConfig   `yaml:"journal" toml:"journal"`
	Health    HealthConfig    `yaml:"health" toml:"health"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// ServerConfig locates the IM server.
type ServerConfig struct {
	Protocol string `yaml:"protocol" toml:"protocol"` // ws or wss
	Host     string `yaml:"host" toml:"host"`
	Port     string `yaml:"port" toml:"port"` // empty omits the port segment
	Path     string `yaml:"path" toml:"path"`
	APIURL   string `yaml:"api_url" toml:"api_url"` // base URL of the /im/* endpoints
}

// Token store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// TokenConfig selects where the session token is persisted.
type TokenConfig struct {
	Store    string `yaml:"store" toml:"store"`
	FilePath string `yaml:"file_path" toml:"file_path"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// ReconnectConfig holds backoff settings.
type ReconnectConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" toml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" toml:"backoff_factor"`
	Jitter        *bool         `yaml:"jitter" toml:"jitter"` // nil means true
}

// JitterEnabled reports whether delays are randomized.
func (r ReconnectConfig) JitterEnabled() bool {
	return r.Jitter == nil || *r.Jitter
}

// SessionConfig holds heartbeat, renewal and socket timing.
type SessionConfig struct {
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	RenewalInterval         time.Duration `yaml:"renewal_interval" toml:"renewal_interval"`
	RenewalInitialDelay     time.Duration `yaml:"renewal_initial_delay" toml:"renewal_initial_delay"`
	RenewalThresholdMinutes int           `yaml:"renewal_threshold_minutes" toml:"renewal_threshold_minutes"`
	HandshakeTimeout        time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout            time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	RequestTimeout          time.Duration `yaml:"request_timeout" toml:"request_timeout"`
	PingInterval            time.Duration `yaml:"ping_interval" toml:"ping_interval"` // 0 disables socket pings
	PingTimeout             time.Duration `yaml:"ping_timeout" toml:"ping_timeout"`
}

// APIConfig holds HTTP client settings for the token endpoints.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries   int           `yaml:"max_retries" toml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" toml:"retry_backoff"`
}

// JournalConfig holds transition journal writer settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port           int           `yaml:"port" toml:"port"`
	StatusInterval time.Duration `yaml:"status_interval" toml:"status_interval"` // how often status is sampled and logged
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"` // debug, info, warn, error
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the slog level for Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	if lvl, ok := logLevels[strings.ToLower(l.Level)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// NeedsDatabase reports whether any enabled component uses Postgres.
func (c *ClientConfig) NeedsDatabase() bool {
	return c.Token.Store == StorePostgres || c.Journal.Enabled
}
