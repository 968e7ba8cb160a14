// Package database persists scrape sessions for the history endpoint.
// The store is optional: the service runs without it when no DSN is
// configured.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Exec executes a query without returning any rows
func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that is expected to return at most one row
func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Migrate creates the sessions table if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS scrape_sessions (
			id            UUID PRIMARY KEY,
			url           TEXT NOT NULL,
			page_class    TEXT NOT NULL,
			item_count    INT NOT NULL DEFAULT 0,
			success_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			records       JSONB,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	if _, err := db.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}
