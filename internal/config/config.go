// Package config loads process configuration from the environment,
// falling back to a local .env file in development the way the teacher's
// gateway service does.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the storectl binary needs to connect to
// Postgres, Redis, and the local filesystem.
type Config struct {
	DBUsername string
	DBPassword string
	DBHost     string
	DBPort     string
	DBDatabase string
	Debug      bool

	RedisAddr string

	CSVDir         string
	ReportCacheDir string

	HTTPAddr string

	ReportTTL time.Duration
}

// Load reads configuration from the environment. A ".env" file in the
// working directory is loaded first, if present; real environment
// variables always win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUsername:     os.Getenv("DB_USERNAME"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBHost:         getEnvDefault("DB_HOST", "localhost"),
		DBPort:         getEnvDefault("DB_PORT", "5432"),
		DBDatabase:     os.Getenv("DB_DATABASE"),
		Debug:          os.Getenv("DEBUG") == "True" || os.Getenv("DEBUG") == "true",
		RedisAddr:      getEnvDefault("REDIS_ADDR", "localhost:6379"),
		CSVDir:         getEnvDefault("CSV_DIR", "./data/csv"),
		ReportCacheDir: getEnvDefault("REPORT_CACHE_DIR", "./data/report_cache"),
		HTTPAddr:       getEnvDefault("HTTP_ADDR", ":8080"),
		ReportTTL:      15 * time.Minute,
	}

	if ttl := os.Getenv("REPORT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid REPORT_TTL: %w", err)
		}
		cfg.ReportTTL = d
	}

	return cfg, nil
}

// DSN builds a libpq-style connection string for pgxpool.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		c.DBUsername, c.DBPassword, c.DBHost, c.DBPort, c.DBDatabase,
	)
}

// EnsureDirs creates the CSV and report-cache directories if they don't
// already exist, mirroring ensure_project_directories_exists in the
// original implementation.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.CSVDir, c.ReportCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
