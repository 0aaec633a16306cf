package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultProtocol                = "ws"
	DefaultPath                    = "/socket"
	DefaultTokenStore              = StoreMemory
	DefaultDBPort                  = 5432
	DefaultDBSSLMode               = "prefer"
	DefaultMaxConns                = 4
	DefaultMinConns                = 1
	DefaultMaxAttempts             = 10
	DefaultBaseDelay               = 1 * time.Second
	DefaultMaxDelay                = 60 * time.Second
	DefaultBackoffFactor           = 2.0
	DefaultHeartbeatInterval       = 2 * time.Minute
	DefaultRenewalInterval         = 5 * time.Minute
	DefaultRenewalInitialDelay     = 1 * time.Second
	DefaultRenewalThresholdMinutes = 10
	DefaultHandshakeTimeout        = 4 * time.Second
	DefaultWriteTimeout            = 5 * time.Second
	DefaultRequestTimeout          = 10 * time.Second
	DefaultPingTimeout             = 90 * time.Second
	DefaultAPITimeout              = 10 * time.Second
	DefaultAPIMaxRetries           = 2
	DefaultAPIRetryBackoff         = 500 * time.Millisecond
	DefaultJournalBatchSize        = 100
	DefaultJournalFlushInterval    = 2 * time.Second
	DefaultJournalBufferSize       = 1000
	DefaultHealthPort              = 8081
	DefaultStatusInterval          = 30 * time.Second
	DefaultLogLevel                = "info"
)

// ApplyDefaults fills every unset optional field.
func (c *ClientConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.Protocol == "" {
		c.Server.Protocol = DefaultProtocol
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}

	if c.Token.Store == "" {
		c.Token.Store = DefaultTokenStore
	}

	applyDBDefaults(&c.Database)

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Reconnect.BackoffFactor == 0 {
		c.Reconnect.BackoffFactor = DefaultBackoffFactor
	}

	// Session defaults
	s := &c.Session
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.RenewalInterval == 0 {
		s.RenewalInterval = DefaultRenewalInterval
	}
	if s.RenewalInitialDelay == 0 {
		s.RenewalInitialDelay = DefaultRenewalInitialDelay
	}
	if s.RenewalThresholdMinutes == 0 {
		s.RenewalThresholdMinutes = DefaultRenewalThresholdMinutes
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.PingInterval > 0 && s.PingTimeout == 0 {
		s.PingTimeout = DefaultPingTimeout
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultAPIMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultAPIRetryBackoff
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultJournalBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultJournalFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.StatusInterval == 0 {
		c.Health.StatusInterval = DefaultStatusInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
