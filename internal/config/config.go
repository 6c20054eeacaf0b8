// Package config loads the market server configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMemory   = "mem"
	StorePostgres = "postgres"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// DatabaseURL is required when Store is postgres.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Store selects the catalog backend: mem or postgres.
	Store string `envconfig:"STORE" default:"postgres"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// MetricsToken enables GET /metrics behind a bearer token. Empty disables metrics.
	MetricsToken string `envconfig:"METRICS_TOKEN"`

	// PurchaseRateLimit is the number of POST /purchases allowed per client IP
	// per minute. Zero disables limiting.
	PurchaseRateLimit int `envconfig:"PURCHASE_RATE_LIMIT" default:"60"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config.Load: DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("config.Load: STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store)
	}
	if c.PurchaseRateLimit < 0 {
		return fmt.Errorf("config.Load: PURCHASE_RATE_LIMIT must not be negative")
	}
	return nil
}

func (c Config) Addr() string { return ":" + c.Port }
