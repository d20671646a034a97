// Package postgres provides the PostgreSQL connection pool and migration
// management backing the namespace policy store. The pool is created once at
// startup and injected into the repository implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/WAL-Service/internal/config"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
)

const (
	// maxConnectAttempts bounds startup connection retries.
	maxConnectAttempts = 5

	// initialRetryDelay is the first retry delay; subsequent attempts
	// double it: 1s, 2s, 4s, 8s.
	initialRetryDelay = time.Second
)

// NewConnectionPool creates a pgx pool with exponential-backoff retries and
// verifies connectivity with a ping before returning. The caller owns the
// pool and must Close it on shutdown.
func NewConnectionPool(ctx context.Context, cfg config.DatabaseConfig, logger logging.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	retryDelay := initialRetryDelay
	var lastErr error

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		logger.Info("attempting database connection",
			logging.Int("attempt", attempt),
			logging.String("host", cfg.Host),
			logging.Int("port", cfg.Port),
			logging.String("database", cfg.DBName))

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err == nil {
			err = pool.Ping(connectCtx)
			if err == nil {
				cancel()
				logger.Info("database connection established")
				return pool, nil
			}
			pool.Close()
		}
		cancel()
		lastErr = err

		if attempt < maxConnectAttempts {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("postgres: connection cancelled: %w", ctx.Err())
			}
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("postgres: connection failed after %d attempts: %w", maxConnectAttempts, lastErr)
}
