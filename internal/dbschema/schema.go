// Package dbschema creates the tables the report engine reads and writes,
// matching the normative schema in the system specification.
package dbschema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Init creates every table used by the report engine if it does not
// already exist. It is safe to call on every process start.
func Init(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS store_status (
			store_id BIGINT NOT NULL,
			status BOOLEAN NOT NULL,
			timestamp_utc TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (store_id, timestamp_utc)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_store_status_store_id_timestamp_utc
			ON store_status (store_id, timestamp_utc)`,
		`CREATE TABLE IF NOT EXISTS time_zone (
			store_id BIGINT PRIMARY KEY,
			timezone_str VARCHAR(255) NOT NULL DEFAULT 'America/Chicago'
		)`,
		`CREATE TABLE IF NOT EXISTS menu_hours (
			store_id BIGINT NOT NULL,
			day_of_week SMALLINT NOT NULL,
			start_time_local TIME NOT NULL,
			end_time_local TIME NOT NULL,
			PRIMARY KEY (store_id, day_of_week)
		)`,
		`CREATE TABLE IF NOT EXISTS report_cache (
			uuid UUID PRIMARY KEY,
			generating BOOLEAN NOT NULL DEFAULT TRUE,
			start_timestamp_utc TIMESTAMPTZ NOT NULL,
			end_timestamp_utc TIMESTAMPTZ NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_name VARCHAR(255) PRIMARY KEY,
			setting_value VARCHAR(255) NOT NULL
		)`,
		`INSERT INTO settings (setting_name, setting_value)
			VALUES ('csv_data_changed', 'false')
			ON CONFLICT (setting_name) DO NOTHING`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// TimescaleDB's create_hypertable is optional: plain Postgres works
	// fine for the query shapes this service needs, so a bare Postgres
	// instance without the extension is not treated as a fatal error.
	_ = tryHypertable(ctx, pool)

	return nil
}

func tryHypertable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		SELECT create_hypertable('store_status', 'timestamp_utc', if_not_exists => TRUE)
	`)
	return err
}
