// Package db opens the Postgres connection pool backing the sync stores.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Config holds pool sizing for the sync API's Postgres connection pool.
// Zero-valued fields fall back to defaults sized for one API instance.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
}

const (
	defaultMaxConns = 16
	defaultMinConns = 2
)

// newPoolConfig parses the connection string and applies the pool sizing.
func newPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	if pc.MaxConns <= 0 {
		pc.MaxConns = defaultMaxConns
	}
	pc.MinConns = cfg.MinConns
	if pc.MinConns <= 0 {
		pc.MinConns = defaultMinConns
	}

	// Recycle connections well under typical load-balancer idle cutoffs.
	pc.MaxConnLifetime = 30 * time.Minute
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.HealthCheckPeriod = time.Minute
	return pc, nil
}

// Open creates the connection pool and verifies connectivity with a ping.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("maxConns", pc.MaxConns).
		Int32("minConns", pc.MinConns).
		Msg("postgres pool ready")

	return pool, nil
}
