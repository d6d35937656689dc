package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// Config holds runtime settings loaded from env vars.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string
	Environment string
	LogLevel    string

	// Geocoding
	NominatimURL string

	// Notification channels
	SMTPHost       string
	SMTPPort       int
	SMTPFrom       string
	PushGatewayURL string
	PushAPIKey     string
}

// Load loads configuration from environment variables.
// Required variables: DATABASE_URL
// Optional variables with defaults: HTTP_ADDR, REDIS_URL, ENVIRONMENT, LOG_LEVEL,
// NOMINATIM_URL, SMTP_HOST, SMTP_PORT, SMTP_FROM, PUSH_GATEWAY_URL, PUSH_API_KEY
func Load() Config {
	return Config{
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:    envRequired("DATABASE_URL"),
		RedisURL:       envOr("REDIS_URL", "redis://localhost:6379/0"),
		Environment:    envOr("ENVIRONMENT", "development"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		NominatimURL:   envOr("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		SMTPHost:       envOr("SMTP_HOST", ""),
		SMTPPort:       envIntOr("SMTP_PORT", 587),
		SMTPFrom:       envOr("SMTP_FROM", "no-reply@dadmatch.app"),
		PushGatewayURL: envOr("PUSH_GATEWAY_URL", ""),
		PushAPIKey:     envOr("PUSH_API_KEY", ""),
	}
}

// Validate checks that all required configuration is present and valid.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTPPort)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func envRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		// In development, allow empty but warn; Validate catches it later.
		telemetry.GetGlobalLogger().WithField("variable", key).Warn("Required configuration variable is not set")
	}
	return value
}
