// Package db opens the Postgres connection pool and carries the schema the
// search service expects.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Schema is the DDL for the tables the service reads and writes.
// Statements are idempotent.
//
//go:embed schema.sql
var Schema string

// ErrMissingURL is returned when no connection string is configured.
var ErrMissingURL = errors.New("database url is required")

// Pool defaults.
const (
	DefaultMaxOpenConns   = 10
	DefaultIdleTimeout    = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Config configures the connection pool.
type Config struct {
	URL            string
	MaxOpenConns   int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Open creates a pool and verifies connectivity within ConnectTimeout.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	pool, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxOpenConns)
	pool.SetConnMaxIdleTime(cfg.IdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool *sql.DB) error {
	if _, err := pool.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
