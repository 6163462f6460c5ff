package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, ROUTING_PROBE_RATE, etc.)
//  2. YAML config file (the configPath argument)
//  3. Hardcoded defaults
//
// If configPath is empty or the file does not exist, only environment
// variables and defaults apply.
//
// Environment variables use the underscore separator and are uppercased.
// The transformer maps them to YAML field names by splitting on the first
// underscore:
//
//	SERVER_HTTP_PORT -> server.http_port
//	ROUTING_DEFAULT_STRATEGY -> routing.default_strategy
//	NATS_URL -> nats.url
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and validate through the descriptor to avoid a
			// TOCTOU race between stat and read.
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// SECTION_FIELD_NAME -> section.field_name: split on the first
		// underscore only, keeping underscores in the field name.
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(k, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(k *koanf.Koanf, cfg *Config) {
	defaults := Load()

	// A bool zero value is indistinguishable from an explicit false, so
	// metrics default on only when the key was never set.
	if !k.Exists("observability.enable_metrics") {
		cfg.Observability.EnableMetrics = defaults.Observability.EnableMetrics
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = defaults.Observability.ServiceName
	}
	if cfg.Routing.DefaultStrategy == "" {
		cfg.Routing.DefaultStrategy = defaults.Routing.DefaultStrategy
	}
	if cfg.Routing.ProbeRate == 0 {
		cfg.Routing.ProbeRate = defaults.Routing.ProbeRate
	}
	if cfg.Routing.BatchRateLimit == 0 {
		cfg.Routing.BatchRateLimit = defaults.Routing.BatchRateLimit
	}
	if cfg.Routing.RecomputeEvery == 0 {
		cfg.Routing.RecomputeEvery = defaults.Routing.RecomputeEvery
	}
	if cfg.Capacity.DefaultMax == 0 {
		cfg.Capacity.DefaultMax = defaults.Capacity.DefaultMax
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}
