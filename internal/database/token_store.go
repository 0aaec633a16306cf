package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rickgao/imsession/internal/token"
)

// Querier is the subset of pgxpool.Pool used by TokenStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TokenStore persists one client instance's session token in Postgres.
type TokenStore struct {
	db         Querier
	instanceID string
}

var _ token.Store = (*TokenStore)(nil)

// NewTokenStore creates a store for instanceID.
func NewTokenStore(db Querier, instanceID string) *TokenStore {
	return &TokenStore{db: db, instanceID: instanceID}
}

// Load returns the saved token, or token.ErrNotFound.
func (s *TokenStore) Load(ctx context.Context) (string, error) {
	var t string
	err := s.db.QueryRow(ctx,
		`SELECT token FROM `+TokensTable+` WHERE instance_id = $1`,
		s.instanceID,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", token.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	if t == "" {
		return "", token.ErrNotFound
	}
	return t, nil
}

// Save upserts the token.
func (s *TokenStore) Save(ctx context.Context, t string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+TokensTable+` (instance_id, token, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (instance_id) DO UPDATE
		 SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`,
		s.instanceID, t,
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}
