// Package dbpool manages a single shared PostgreSQL connection pool.
// The ledger and marketplace stores share the same pool to reduce
// connection overhead against hosted Postgres.
package dbpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/alittlebitofmoney/server/internal/config"
)

// Pool wraps a pgx connection pool.
type Pool struct {
	pool *pgxpool.Pool
	dsn  string
}

// Connect tries the configured DSN and then each fallback in order, returning
// the first pool that answers a ping. Hosted poolers rewrite connections under
// the client, so prepared-statement caching is disabled (simple protocol).
func Connect(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*Pool, error) {
	candidates := make([]string, 0, 1+len(cfg.FallbackDSNs))
	if cfg.DSN != "" {
		candidates = append(candidates, cfg.DSN)
	}
	candidates = append(candidates, cfg.FallbackDSNs...)

	if len(candidates) == 0 {
		return nil, errors.New("no database DSN configured")
	}

	var lastErr error
	for i, dsn := range candidates {
		pool, err := connectOne(ctx, dsn, cfg)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("candidate", i).Msg("dbpool.candidate_failed")
			continue
		}
		log.Info().Int("candidate", i).Msg("dbpool.connected")
		return &Pool{pool: pool, dsn: dsn}, nil
	}
	return nil, fmt.Errorf("all database candidates failed: %w", lastErr)
}

func connectOne(ctx context.Context, dsn string, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pc.MinConns = cfg.MinConns
	pc.MaxConns = cfg.MaxConns
	pc.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// Pgx returns the underlying pool for use by stores.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// Close closes the shared connection pool. Should only be called once at
// application shutdown.
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}
