package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig sizes the connection pool. Zero fields take the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectAttempts and RetryDelay control the startup ping loop.
	ConnectAttempts int
	RetryDelay      time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns == 0 {
		p.MaxOpenConns = 25
	}
	if p.MaxIdleConns == 0 {
		p.MaxIdleConns = 5
	}
	if p.ConnMaxLifetime == 0 {
		p.ConnMaxLifetime = 5 * time.Minute
	}
	if p.ConnMaxIdleTime == 0 {
		p.ConnMaxIdleTime = time.Minute
	}
	if p.ConnectAttempts == 0 {
		p.ConnectAttempts = 5
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = 2 * time.Second
	}
	return p
}

// NewDB opens the database and waits for it to answer a ping, giving up when
// ctx is done or the attempts run out.
func NewDB(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= pool.ConnectAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		if attempt == pool.ConnectAttempts {
			break
		}
		slog.WarnContext(ctx, "database not ready, retrying", "attempt", attempt, "error", pingErr)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("waiting for database: %w", ctx.Err())
		case <-time.After(pool.RetryDelay):
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", pool.ConnectAttempts, pingErr)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	return db, nil
}
