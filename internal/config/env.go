package config

import (
	"os"
	"strconv"
	"time"

	"github.com/FairForge/failoverd/internal/trigger"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if listen := os.Getenv("FAILOVERD_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}

	if logLevel := os.Getenv("FAILOVERD_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if primary := os.Getenv("FAILOVERD_PRIMARY"); primary != "" {
		cfg.Failover.DefaultPrimary = primary
	}

	if mode := os.Getenv("FAILOVERD_MODE"); mode != "" {
		cfg.Strategy.Mode = trigger.Mode(mode)
	}

	if interval := os.Getenv("FAILOVERD_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Failover.PollInterval = d
		}
	}

	// History store
	if dsn := os.Getenv("FAILOVERD_POSTGRES_DSN"); dsn != "" {
		cfg.History.PostgresDSN = dsn
	}

	if enabled := os.Getenv("FAILOVERD_TRACING_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
	cfg.Tracing.Endpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
