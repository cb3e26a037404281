// Package postgres implements the storage interfaces on pgx. Snapshot
// inserts run in short transactions; batch reads are single queries.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects, pings and returns a bounded connection pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns < 4 {
		cfg.MaxConns = 10
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	id BIGSERIAL PRIMARY KEY,
	mint_address TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'monitoring',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	liquidity_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	primary_dex TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tokens_status ON tokens (status);

CREATE TABLE IF NOT EXISTS token_scores (
	id BIGSERIAL PRIMARY KEY,
	token_id BIGINT NOT NULL REFERENCES tokens (id),
	score DOUBLE PRECISION NOT NULL,
	smoothed_score DOUBLE PRECISION NOT NULL,
	raw_components JSONB NOT NULL DEFAULT '{}',
	smoothed_components JSONB NOT NULL DEFAULT '{}',
	spam_metrics JSONB,
	scoring_model TEXT NOT NULL DEFAULT '',
	metrics JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_token_scores_token_created
	ON token_scores (token_id, created_at DESC);

CREATE TABLE IF NOT EXISTS app_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Bootstrap creates the schema when missing. Proper migrations are a
// deployment concern; this keeps a fresh database usable.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports a 23505 from postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
