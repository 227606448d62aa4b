package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TokenURL  string
	SignalURL string
	Address   string

	StunFailTimeout time.Duration
	MaxReconnects   int
	MetricsAddr     string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	tokenURL := os.Getenv("CALLKIT_TOKEN_URL")
	if tokenURL == "" {
		return nil, fmt.Errorf("CALLKIT_TOKEN_URL environment variable is required")
	}

	signalURL := os.Getenv("CALLKIT_SIGNAL_URL")
	if signalURL == "" {
		return nil, fmt.Errorf("CALLKIT_SIGNAL_URL environment variable is required")
	}

	address := os.Getenv("CALLKIT_ADDRESS")
	if address == "" {
		return nil, fmt.Errorf("CALLKIT_ADDRESS environment variable is required")
	}

	cfg := &Config{
		TokenURL:        tokenURL,
		SignalURL:       signalURL,
		Address:         address,
		StunFailTimeout: 8 * time.Second,
		MaxReconnects:   3,
		MetricsAddr:     os.Getenv("CALLKIT_METRICS_ADDR"),
	}

	if v := os.Getenv("CALLKIT_STUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse CALLKIT_STUN_TIMEOUT: %w", err)
		}
		cfg.StunFailTimeout = d
	}

	if v := os.Getenv("CALLKIT_MAX_RECONNECTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse CALLKIT_MAX_RECONNECTS: %w", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("CALLKIT_MAX_RECONNECTS must be at least 1")
		}
		cfg.MaxReconnects = n
	}

	return cfg, nil
}
