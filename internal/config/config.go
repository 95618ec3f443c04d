// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string
	// RoundTimer is the pick window for each game round.
	RoundTimer time.Duration
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
	// LogLevel is the minimum log level: debug, info, warn, error.
	LogLevel string
	// LogFormat is "json" or "console".
	LogFormat string
}

// Load reads .env if present, then the environment, applying defaults.
func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		Addr:            envOr("ADDR", ":8080"),
		RoundTimer:      15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "console"),
	}

	if v := os.Getenv("ROUND_TIMER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing ROUND_TIMER %q: %w", v, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("ROUND_TIMER must be positive, got %q", v)
		}
		cfg.RoundTimer = d
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
