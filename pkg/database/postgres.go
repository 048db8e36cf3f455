package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connections sit idle between scheduler ticks, so they are recycled more
// aggressively than pgxpool's defaults would.
const (
	connMaxLifetime = time.Hour
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps the engine's pgxpool connection pool. Repositories never touch
// it directly; they go through a workspace-scoped session.
type DB struct {
	*pgxpool.Pool
}

// NewConnection opens the application store pool and verifies it with a
// ping. maxConns comes from DatabaseConfig; zero falls back to the pgxpool
// default.
func NewConnection(ctx context.Context, url string, maxConns int32) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MaxConnLifetime = connMaxLifetime
	poolConfig.MaxConnIdleTime = connMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
