package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/storemon/storemon/internal/config"
	"github.com/storemon/storemon/internal/dbschema"
	"github.com/storemon/storemon/internal/logging"
)

// app bundles the dependencies every subcommand needs after connecting
// to Postgres and creating the on-disk directories.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// bootstrap loads config, opens a pool, runs schema migrations, and
// ensures the CSV/report-cache directories exist. Every subcommand but
// the pure-CLI ones (help) goes through this.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Debug)

	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensuring directories exist: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := dbschema.Init(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &app{cfg: cfg, pool: pool, log: log}, nil
}

func (a *app) Close() {
	a.pool.Close()
}
