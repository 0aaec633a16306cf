package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/imsession/internal/config"
	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/database"
	"github.com/rickgao/imsession/internal/journal"
	"github.com/rickgao/imsession/internal/reconnect"
	"github.com/rickgao/imsession/internal/session"
	"github.com/rickgao/imsession/internal/token"
)

// sessionConfig maps file configuration onto the session.
func sessionConfig(cfg *config.ClientConfig) session.Config {
	sc := session.DefaultConfig()

	sc.Endpoint = connection.Endpoint{
		Protocol: cfg.Server.Protocol,
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Path:     cfg.Server.Path,
	}
	sc.PageURL = cfg.PageURL
	sc.Transport.HandshakeTimeout = cfg.Session.HandshakeTimeout
	sc.Transport.WriteTimeout = cfg.Session.WriteTimeout

	sc.Reconnect = reconnect.Config{
		MaxAttempts:   cfg.Reconnect.MaxAttempts,
		BaseDelay:     cfg.Reconnect.BaseDelay,
		MaxDelay:      cfg.Reconnect.MaxDelay,
		BackoffFactor: cfg.Reconnect.BackoffFactor,
		Jitter:        cfg.Reconnect.JitterEnabled(),
	}

	sc.HeartbeatInterval = cfg.Session.HeartbeatInterval
	sc.RenewalInterval = cfg.Session.RenewalInterval
	sc.RenewalInitialDelay = cfg.Session.RenewalInitialDelay
	sc.RenewalThresholdMinutes = cfg.Session.RenewalThresholdMinutes
	sc.RequestTimeout = cfg.Session.RequestTimeout
	sc.PingInterval = cfg.Session.PingInterval
	sc.PingTimeout = cfg.Session.PingTimeout

	return sc
}

func journalConfig(cfg *config.ClientConfig) journal.Config {
	return journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}
}

// buildTokenStore returns the configured store. pool is only used by the
// postgres store and may be nil otherwise.
func buildTokenStore(cfg *config.ClientConfig, pool *pgxpool.Pool) (token.Store, error) {
	switch cfg.Token.Store {
	case config.StoreMemory, "":
		return token.NewMemoryStore(""), nil
	case config.StoreFile:
		return token.NewFileStore(cfg.Token.FilePath), nil
	case config.StorePostgres:
		if pool == nil {
			return nil, errors.New("postgres token store needs a database")
		}
		return database.NewTokenStore(pool, cfg.Instance.ID), nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.Token.Store)
	}
}

// healthStatus grades a session for the /health endpoint.
func healthStatus(st session.Status) string {
	switch {
	case st.Kicked || st.State == connection.Closed:
		return "unhealthy"
	case st.State == connection.Connected:
		return "healthy"
	default:
		return "degraded"
	}
}

// statusAttrs flattens a session status for a log line.
func statusAttrs(st session.Status) []any {
	attrs := []any{
		"state", st.State,
		"ready_state", st.ReadyState,
		"attempts", st.ReconnectAttempts,
		"pending_reconnect", st.PendingReconnect,
		"has_token", st.HasToken,
		"timers", len(st.Timers),
	}
	if !st.Metadata.LastConnectionTime.IsZero() {
		attrs = append(attrs, "connected_for", time.Since(st.Metadata.LastConnectionTime).Round(time.Second))
	}
	return attrs
}
