// Package database provides connection management for the registration store:
// a pgx pool for PostgreSQL and a database/sql handle for SQLite, each with
// its schema applied from embedded migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// NewPool creates and validates a pgxpool connection pool and applies the
// PostgreSQL migrations. It retries up to 5 times to accommodate containers
// starting up.
func NewPool(ctx context.Context, cfg config.Database) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := connectWithRetry(ctx, connectAttempts, connectBackoff, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return pool, nil
}

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// connectWithRetry calls connect up to attempts times, pausing backoff
// between failures. It stops early when ctx is done.
func connectWithRetry[T any](ctx context.Context, attempts int, backoff time.Duration, connect func() (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		if v, err = connect(); err == nil {
			return v, nil
		}
		slog.Warn("db connect attempt failed", "attempt", attempt, "max", attempts, "error", err)
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
	return zero, err
}

// OpenSQLite opens the SQLite database at path and applies migrations.
// Write transactions start as BEGIN IMMEDIATE so that the read-validate-write
// sequence of a booking holds the database write lock from its first read.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := "file:" + cleanPath +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps writers strictly serialized.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}
