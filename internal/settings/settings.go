// Package settings wraps the key/value settings table used to signal
// ingest state across process restarts.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Get for an unknown setting name.
var ErrNotFound = errors.New("settings: no such key")

// Store wraps a pgx pool with settings reads/writes.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the current value for name.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT setting_value FROM settings WHERE setting_name = $1
	`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %q: %w", name, err)
	}
	return value, nil
}

// Set upserts a setting's value.
func (s *Store) Set(ctx context.Context, name, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (setting_name, setting_value)
		VALUES ($1, $2)
		ON CONFLICT (setting_name) DO UPDATE SET setting_value = EXCLUDED.setting_value
	`, name, value)
	if err != nil {
		return fmt.Errorf("writing setting %q: %w", name, err)
	}
	return nil
}
