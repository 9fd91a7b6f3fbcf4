package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ipproof-backend/internal/common/config"
	"ipproof-backend/internal/common/logger"
)

type Client struct {
	pool *pgxpool.Pool
}

// NewClient opens the pool described by cfg and pings it.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	c, err := Open(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}

	poolCfg := c.pool.Config().ConnConfig
	logger.Info().
		Str("host", poolCfg.Host).
		Uint16("port", poolCfg.Port).
		Str("database", poolCfg.Database).
		Int32("max_conns", c.pool.Config().MaxConns).
		Msg("PostgreSQL client initialized")

	return c, nil
}

// Open creates a pool for dsn. maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, dsn string, maxConns int32) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Pool returns the underlying pgx pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

func (c *Client) Close() {
	c.pool.Close()
}

// HealthCheck pings the database.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
