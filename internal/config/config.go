// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration. Every field maps to one environment
// variable.
type Config struct {
	Port            int           `env:"PORT"                      envDefault:"5000"`
	DatabaseURL     string        `env:"BACKCHAT_DATABASE_URL"     envDefault:"data/backchat.db"`
	RedisURL        string        `env:"BACKCHAT_REDIS_URL"`
	TokenCacheTTL   time.Duration `env:"BACKCHAT_TOKEN_CACHE_TTL"  envDefault:"1h"`
	ProviderTimeout time.Duration `env:"BACKCHAT_PROVIDER_TIMEOUT" envDefault:"10s"`
	FacebookURL     string        `env:"BACKCHAT_FACEBOOK_URL"     envDefault:"https://graph.facebook.com/me"`
	GoogleURL       string        `env:"BACKCHAT_GOOGLE_URL"       envDefault:"https://www.googleapis.com/oauth2/v1/tokeninfo"`
	MetricsEnabled  bool          `env:"BACKCHAT_METRICS_ENABLED"  envDefault:"true"`
	LogLevel        string        `env:"BACKCHAT_LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"BACKCHAT_LOG_FORMAT"       envDefault:"text"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in 1..65535, got %d", c.Port))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("BACKCHAT_DATABASE_URL must not be empty"))
	}
	if c.TokenCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("BACKCHAT_TOKEN_CACHE_TTL must be positive, got %s", c.TokenCacheTTL))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BACKCHAT_PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("BACKCHAT_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel converts LogLevel to a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("BACKCHAT_LOG_LEVEL: %w", err)
	}
	return level, nil
}
