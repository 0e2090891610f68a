/*
Package config loads server configuration from the environment.

PURPOSE:
  Reads an optional .env file (godotenv) and environment variables into a
  Config struct. Command-line flags in cmd/server take precedence; the
  environment supplies defaults for containerized deployments.

VARIABLES:
  PORT            HTTP server port (default 8080)
  DB_PATH         SQLite database path (default stocktake.db)
  DEFAULT_TENANT  Tenant assumed when X-Tenant-ID is absent (default "default")
*/
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	DBPath        string
	DefaultTenant string
}

// Load reads .env (if present) and the environment. Missing values fall
// back to development defaults.
func Load() Config {
	// Absent .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := Config{
		Port:          8080,
		DBPath:        "stocktake.db",
		DefaultTenant: "default",
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DEFAULT_TENANT"); v != "" {
		cfg.DefaultTenant = v
	}

	return cfg
}
