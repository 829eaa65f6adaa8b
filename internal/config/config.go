// Package config reads the runtime configuration from the environment.
// Declarative pieces (course catalog, environment pairing policy) live
// in the CUE deployment document instead; see internal/catalog.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-level runtime configuration.
type Config struct {
	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// CatalogPath is the CUE deployment document.
	CatalogPath string

	// GatewayMode selects the charge adapter: "mock" or "live".
	GatewayMode string

	// GatewayEndpoint and GatewayAPIKey configure the live adapter;
	// ignored in mock mode.
	GatewayEndpoint string
	GatewayAPIKey   string

	// GatewayTimeout bounds a single charge call.
	GatewayTimeout time.Duration

	// AdminJWTSecret signs and verifies admin API tokens. Required
	// only when the admin surface is enabled.
	AdminJWTSecret string

	// CORSOrigin is the allowed browser origin for the checkout form.
	CORSOrigin string

	// Rate limiting for the checkout endpoint.
	RateLimitWindow time.Duration
	RateLimitMax    int64

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// ReleaseMode disables debug middleware and .env loading.
	ReleaseMode bool
}

// Load builds a Config from environment variables, applying defaults
// for everything a sandbox deployment can run without.
func Load() (*Config, error) {

	getEnv := func(key string, required bool) (string, error) {
		value := os.Getenv(key)
		if value == "" && required {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}
	withDefault := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{}
	var err error

	cfg.ListenAddr = withDefault("CHARGEONCE_ADDR", ":8080")
	cfg.DatabasePath = withDefault("CHARGEONCE_DB", "chargeonce.db")
	cfg.CatalogPath = withDefault("CHARGEONCE_CATALOG", "checkout.cue")
	cfg.GatewayMode = withDefault("CHARGEONCE_GATEWAY_MODE", "mock")
	cfg.CORSOrigin = withDefault("CHARGEONCE_CORS_ORIGIN", "")
	cfg.LogLevel = withDefault("CHARGEONCE_LOG_LEVEL", "info")
	cfg.ReleaseMode = os.Getenv("CHARGEONCE_MODE") == "release"

	switch cfg.GatewayMode {
	case "mock":
		// No provider credentials needed.
	case "live":
		if cfg.GatewayEndpoint, err = getEnv("CHARGEONCE_GATEWAY_ENDPOINT", true); err != nil {
			return nil, err
		}
		if cfg.GatewayAPIKey, err = getEnv("CHARGEONCE_GATEWAY_API_KEY", true); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid CHARGEONCE_GATEWAY_MODE: %q (want mock or live)", cfg.GatewayMode)
	}

	cfg.GatewayTimeout, err = durationEnv("CHARGEONCE_GATEWAY_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitWindow, err = durationEnv("CHARGEONCE_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitMax, err = intEnv("CHARGEONCE_RATE_MAX", 30)
	if err != nil {
		return nil, err
	}

	cfg.AdminJWTSecret = os.Getenv("CHARGEONCE_ADMIN_JWT_SECRET")

	return cfg, nil
}

// AdminEnabled reports whether the admin API surface can be served.
func (c *Config) AdminEnabled() bool {
	return c.AdminJWTSecret != ""
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func intEnv(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
