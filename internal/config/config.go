// Package config provides configuration loading for brokerd.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally overlaid on a YAML config file. This package supports server,
// storage, messaging, and routing-specific settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete brokerd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Database      DatabaseConfig      `koanf:"database"`
	NATS          NATSConfig          `koanf:"nats"`
	Routing       RoutingConfig       `koanf:"routing"`
	Capacity      CapacityConfig      `koanf:"capacity"`
	Specialty     SpecialtyConfig     `koanf:"specialty"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds telemetry configuration.
type ObservabilityConfig struct {
	EnableMetrics bool   `koanf:"enable_metrics"`
	ServiceName   string `koanf:"service_name"`
}

// DatabaseConfig holds PostgreSQL configuration. When URL is empty the
// service runs on in-memory stores, which is the mode used in tests and
// local development.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// NATSConfig holds event publishing configuration. Publishing is disabled
// when URL is empty.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// RoutingConfig holds routing service configuration.
type RoutingConfig struct {
	DefaultStrategy string        `koanf:"default_strategy"`
	ProbeRate       float64       `koanf:"probe_rate"`
	BatchRateLimit  float64       `koanf:"batch_rate_limit"`
	RecomputeEvery  time.Duration `koanf:"recompute_every"`
}

// CapacityConfig holds capacity tracking configuration.
type CapacityConfig struct {
	DefaultMax int `koanf:"default_max"`
}

// SpecialtyConfig holds semantic specialty matching configuration. When
// EmbeddingURL is empty, matching uses exact specialty overlap only.
type SpecialtyConfig struct {
	EmbeddingURL string `koanf:"embedding_url"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_HTTP_PORT: HTTP server port (default: 9090)
//   - SERVER_SHUTDOWN_TIMEOUT: Graceful shutdown timeout (default: 10s)
//   - OBSERVABILITY_ENABLE_METRICS: Expose Prometheus metrics (default: true)
//   - OBSERVABILITY_SERVICE_NAME: Service name (default: brokerd)
//   - DATABASE_URL: PostgreSQL connection string (default: empty, in-memory)
//   - NATS_URL: NATS server URL (default: empty, publishing disabled)
//   - ROUTING_DEFAULT_STRATEGY: Strategy when none requested (default: balanced)
//   - ROUTING_PROBE_RATE: Fraction of requests probed for experiments (default: 0.1)
//   - ROUTING_BATCH_RATE_LIMIT: Batch routing decisions per second (default: 50)
//   - ROUTING_RECOMPUTE_EVERY: Metrics recompute interval (default: 1h)
//   - CAPACITY_DEFAULT_MAX: Default max concurrent leads per broker (default: 10)
//   - SPECIALTY_EMBEDDING_URL: TEI embedding service URL (default: empty, overlap-only matching)
//   - LOGGING_LEVEL: Log level (default: info)
//   - LOGGING_FORMAT: json or console (default: json)
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_HTTP_PORT", 9090),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			EnableMetrics: getEnvBool("OBSERVABILITY_ENABLE_METRICS", true),
			ServiceName:   getEnvString("OBSERVABILITY_SERVICE_NAME", "brokerd"),
		},
		Database: DatabaseConfig{
			URL: getEnvString("DATABASE_URL", ""),
		},
		NATS: NATSConfig{
			URL: getEnvString("NATS_URL", ""),
		},
		Routing: RoutingConfig{
			DefaultStrategy: getEnvString("ROUTING_DEFAULT_STRATEGY", "balanced"),
			ProbeRate:       getEnvFloat("ROUTING_PROBE_RATE", 0.1),
			BatchRateLimit:  getEnvFloat("ROUTING_BATCH_RATE_LIMIT", 50),
			RecomputeEvery:  getEnvDuration("ROUTING_RECOMPUTE_EVERY", time.Hour),
		},
		Capacity: CapacityConfig{
			DefaultMax: getEnvInt("CAPACITY_DEFAULT_MAX", 10),
		},
		Specialty: SpecialtyConfig{
			EmbeddingURL: getEnvString("SPECIALTY_EMBEDDING_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOGGING_LEVEL", "info"),
			Format: getEnvString("LOGGING_FORMAT", "json"),
		},
	}

	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Probe rate is outside [0, 1]
//   - Batch rate limit is not positive
//   - Default max capacity is outside [1, 100]
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableMetrics && c.Observability.ServiceName == "" {
		return errors.New("service name required when metrics are enabled")
	}

	if c.Routing.ProbeRate < 0 || c.Routing.ProbeRate > 1 {
		return fmt.Errorf("invalid probe rate: %v (must be in [0, 1])", c.Routing.ProbeRate)
	}

	if c.Routing.BatchRateLimit <= 0 {
		return fmt.Errorf("invalid batch rate limit: %v (must be positive)", c.Routing.BatchRateLimit)
	}

	if c.Capacity.DefaultMax < 1 || c.Capacity.DefaultMax > 100 {
		return fmt.Errorf("invalid default max capacity: %d (must be 1-100)", c.Capacity.DefaultMax)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Logging.Format)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
