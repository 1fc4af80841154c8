package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOptions sizes the ledger's connection pool. Every transfer holds one
// connection for the length of its row-locking transaction.
type PostgresOptions struct {
	URL             string
	MaxConns        int32
	ConnectAttempts int
}

// NewPostgresPool configures the ledger store's pool and waits for the
// database to accept connections.
func NewPostgresPool(ctx context.Context, opts PostgresOptions) (*pgxpool.Pool, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := waitReady(ctx, opts.ConnectAttempts, connectPause, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
