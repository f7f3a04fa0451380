package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned by Connect when no database url is set.
var ErrNotConfigured = errors.New("database url not configured")

// Connect opens a pgx pool for connStr and pings it.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, ErrNotConfigured
	}
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS race_results (
	lobby_id        TEXT        NOT NULL,
	user_id         TEXT        NOT NULL,
	user_name       TEXT        NOT NULL,
	position        INTEGER     NOT NULL,
	final_wpm       DOUBLE PRECISION NOT NULL,
	final_accuracy  DOUBLE PRECISION NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL,
	text_snippet_id TEXT        NOT NULL,
	PRIMARY KEY (lobby_id, user_id)
)`

// EnsureSchema creates the tables owned by this service if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create race_results: %w", err)
	}
	return nil
}

// beginTxFunc starts a transaction on pool, calls f with it, and commits or
// rolls back depending on f's result.
func beginTxFunc(ctx context.Context, pool *pgxpool.Pool, txOptions pgx.TxOptions, f func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}
