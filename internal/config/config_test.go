package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Observability.EnableMetrics)
	assert.Equal(t, "brokerd", cfg.Observability.ServiceName)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "balanced", cfg.Routing.DefaultStrategy)
	assert.Equal(t, 0.1, cfg.Routing.ProbeRate)
	assert.Equal(t, 50.0, cfg.Routing.BatchRateLimit)
	assert.Equal(t, time.Hour, cfg.Routing.RecomputeEvery)
	assert.Equal(t, 10, cfg.Capacity.DefaultMax)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_HTTP_PORT", "8080")
	t.Setenv("ROUTING_PROBE_RATE", "0.25")
	t.Setenv("ROUTING_RECOMPUTE_EVERY", "15m")
	t.Setenv("CAPACITY_DEFAULT_MAX", "20")
	t.Setenv("LOGGING_FORMAT", "console")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.25, cfg.Routing.ProbeRate)
	assert.Equal(t, 15*time.Minute, cfg.Routing.RecomputeEvery)
	assert.Equal(t, 20, cfg.Capacity.DefaultMax)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("SERVER_HTTP_PORT", "not-a-number")
	t.Setenv("ROUTING_PROBE_RATE", "lots")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.1, cfg.Routing.ProbeRate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name: "metrics without service name",
			mutate: func(c *Config) {
				c.Observability.EnableMetrics = true
				c.Observability.ServiceName = ""
			},
			wantErr: "service name required",
		},
		{
			name: "no service name is fine when metrics are off",
			mutate: func(c *Config) {
				c.Observability.EnableMetrics = false
				c.Observability.ServiceName = ""
			},
		},
		{
			name:    "probe rate above one",
			mutate:  func(c *Config) { c.Routing.ProbeRate = 1.5 },
			wantErr: "invalid probe rate",
		},
		{
			name:    "negative probe rate",
			mutate:  func(c *Config) { c.Routing.ProbeRate = -0.1 },
			wantErr: "invalid probe rate",
		},
		{
			name:    "zero batch rate limit",
			mutate:  func(c *Config) { c.Routing.BatchRateLimit = 0 },
			wantErr: "invalid batch rate limit",
		},
		{
			name:    "default max capacity out of range",
			mutate:  func(c *Config) { c.Capacity.DefaultMax = 101 },
			wantErr: "invalid default max capacity",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "logfmt" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadWithFile(t *testing.T) {
	t.Run("missing path falls back to defaults", func(t *testing.T) {
		cfg, err := LoadWithFile("")
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.True(t, cfg.Observability.EnableMetrics)
	})

	t.Run("nonexistent file is ignored", func(t *testing.T) {
		cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "no-such.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "balanced", cfg.Routing.DefaultStrategy)
	})

	t.Run("yaml values override defaults", func(t *testing.T) {
		path := writeConfigFile(t, `
server:
  http_port: 7070
routing:
  default_strategy: performance
  probe_rate: 0.5
logging:
  format: console
`)
		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "performance", cfg.Routing.DefaultStrategy)
		assert.Equal(t, 0.5, cfg.Routing.ProbeRate)
		assert.Equal(t, "console", cfg.Logging.Format)
		// Untouched sections keep their defaults.
		assert.Equal(t, 10, cfg.Capacity.DefaultMax)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfigFile(t, "server:\n  http_port: 7070\n")
		t.Setenv("SERVER_HTTP_PORT", "6060")

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 6060, cfg.Server.Port)
	})

	t.Run("metrics can be disabled explicitly", func(t *testing.T) {
		path := writeConfigFile(t, "observability:\n  enable_metrics: false\n")

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.False(t, cfg.Observability.EnableMetrics)
	})

	t.Run("invalid yaml errors", func(t *testing.T) {
		path := writeConfigFile(t, "server: [unclosed")
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load config file")
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := writeConfigFile(t, "routing:\n  probe_rate: 2.0\n")
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation failed")
	})

	t.Run("oversized file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		big := make([]byte, maxConfigFileSize+1)
		require.NoError(t, os.WriteFile(path, big, 0o600))

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config file too large")
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
