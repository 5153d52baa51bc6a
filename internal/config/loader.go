package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load reads configuration from environment variables. It attempts to load
// a .env file first (for local development), then parses the environment
// into the Config struct.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	} else {
		logrus.Infof("loaded environment variables from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	return cfg, nil
}

// Validate performs custom validation beyond what the env tags express.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d (must be 1-65535)", c.HTTPPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d (must be 1-65535)", c.MetricsPort)
	}

	if c.BungieAPIKey == "" {
		return fmt.Errorf("BUNGIE_API_KEY is required")
	}

	switch c.CacheBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("invalid CACHE_BACKEND: %q (must be file or redis)", c.CacheBackend)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.HistoryCheckInterval < 1 {
		return fmt.Errorf("HISTORY_CHECK_INTERVAL must be at least 1")
	}

	if c.ProfileAccountID != "" && c.ProfilePlatform == 0 {
		return fmt.Errorf("PROFILE_PLATFORM is required when PROFILE_ACCOUNT_ID is set")
	}

	return nil
}
