package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Protocol != "ws" && c.Server.Protocol != "wss" {
		return fmt.Errorf("server.protocol must be ws or wss, got %q", c.Server.Protocol)
	}
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.APIURL == "" {
		return errors.New("server.api_url is required")
	}

	switch c.Token.Store {
	case StoreMemory, StorePostgres:
	case StoreFile:
		if c.Token.FilePath == "" {
			return errors.New("token.file_path is required when token.store is file")
		}
	default:
		return fmt.Errorf("token.store must be memory, file or postgres, got %q", c.Token.Store)
	}

	if c.NeedsDatabase() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if err := c.Reconnect.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}
	if c.Health.StatusInterval <= 0 {
		return errors.New("health.status_interval must be positive")
	}

	if _, ok := logLevels[strings.ToLower(c.Log.Level)]; !ok {
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

func (r *ReconnectConfig) validate() error {
	if r.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}
	if r.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be less than base_delay (%s)", r.MaxDelay, r.BaseDelay)
	}
	if r.BackoffFactor < 1 {
		return errors.New("reconnect.backoff_factor must be >= 1")
	}
	return nil
}

func (s *SessionConfig) validate() error {
	if s.HeartbeatInterval <= 0 {
		return errors.New("session.heartbeat_interval must be > 0")
	}
	if s.RenewalInterval <= 0 {
		return errors.New("session.renewal_interval must be > 0")
	}
	if s.RenewalThresholdMinutes < 0 {
		return errors.New("session.renewal_threshold_minutes must be >= 0")
	}
	if s.PingInterval < 0 {
		return errors.New("session.ping_interval must be >= 0")
	}
	if s.PingInterval > 0 && s.PingTimeout <= s.PingInterval {
		return fmt.Errorf("session.ping_timeout (%s) must exceed ping_interval (%s)", s.PingTimeout, s.PingInterval)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
