package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/backend/internal/config"
)

// ManagedStore is a WorkflowStore that also supports the administrative
// normalization pass.
type ManagedStore interface {
	WorkflowStore
	Normalizer
}

// Open opens the store selected by cfg.DB.Driver. Postgres pools honor
// db.max_conns, are pinged before use and are migrated; SQLite applies its
// schema on open.
func Open(ctx context.Context, cfg *config.Config, logger Logger) (ManagedStore, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	switch cfg.DB.Driver {
	case "sqlite":
		logger.Info("Opening SQLite store", "path", cfg.DB.SQLitePath)
		store, err := OpenSQLiteWorkflowStore(cfg.DB.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgresWorkflowStore(pool, PostgresOptions{
			AppRole: cfg.DB.AppRole,
			Logger:  logger,
		})
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}

// NewPool connects to Postgres with the configured pool settings and checks
// the connection.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// PoolConfig builds the pgx pool configuration for cfg.
func PoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}
	return poolConfig, nil
}
