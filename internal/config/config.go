// Package config loads process configuration from the environment,
// with .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, sectioned by concern.
type Config struct {
	Engine   EngineConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// EngineConfig carries engine defaults overridable per workflow.
type EngineConfig struct {
	LevelTimeout time.Duration
	MaxWorkers   int
	HTTPTimeout  time.Duration
}

// DatabaseConfig configures the optional run store.
type DatabaseConfig struct {
	DSN             string
	MaxConnections  int
	MaxConnLifetime time.Duration
	Debug           bool
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level   string
	Console bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Engine: EngineConfig{
			LevelTimeout: envDuration("DAGRUN_LEVEL_TIMEOUT", 300*time.Second),
			MaxWorkers:   envInt("DAGRUN_MAX_WORKERS", 8),
			HTTPTimeout:  envDuration("DAGRUN_HTTP_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             os.Getenv("DAGRUN_DATABASE_DSN"),
			MaxConnections:  envInt("DAGRUN_DATABASE_MAX_CONNECTIONS", 10),
			MaxConnLifetime: envDuration("DAGRUN_DATABASE_MAX_CONN_LIFETIME", time.Hour),
			Debug:           envBool("DAGRUN_DATABASE_DEBUG", false),
		},
		Logging: LoggingConfig{
			Level:   envString("DAGRUN_LOG_LEVEL", "info"),
			Console: envBool("DAGRUN_LOG_CONSOLE", false),
		},
	}

	if cfg.Engine.MaxWorkers < 1 {
		return nil, fmt.Errorf("DAGRUN_MAX_WORKERS must be >= 1")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
