package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Table names.
const (
	TokensTable      = "im_session_tokens"
	TransitionsTable = "im_connection_transitions"
)

// Execer is the subset of pgxpool.Pool used for DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TokensTable + ` (
		instance_id TEXT PRIMARY KEY,
		token       TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TransitionsTable + ` (
		id          UUID PRIMARY KEY,
		session_id  UUID NOT NULL,
		instance_id TEXT NOT NULL,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL,
		at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ` + TransitionsTable + `_session_at_idx
		ON ` + TransitionsTable + ` (session_id, at)`,
}

// EnsureSchema creates the client's tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
