// Package config reads process settings from RECRUITD_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`
	PGDSN    string `env:"PG_DSN"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AuthSecret  string        `env:"AUTH_SECRET"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	AdminEmails []string      `env:"ADMIN_EMAILS" envSeparator:","`

	PublicBaseURL    string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ApprovalTokenTTL time.Duration `env:"APPROVAL_TOKEN_TTL" envDefault:"168h"`
	AdminEmail       string        `env:"ADMIN_EMAIL"`
	ReaperInterval   time.Duration `env:"REAPER_INTERVAL" envDefault:"15m"`

	NotifyWebhookURL   string        `env:"NOTIFY_WEBHOOK_URL"`
	NotifyPollInterval time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"5s"`
	NotifyBatch        int           `env:"NOTIFY_BATCH" envDefault:"50"`
	NotifyMaxAttempts  int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"8"`

	AnalyticsCacheTTL time.Duration `env:"ANALYTICS_CACHE_TTL" envDefault:"30s"`
	RatePerSecond     float64       `env:"RATE_PER_SECOND" envDefault:"50"`
	RateBurst         int           `env:"RATE_BURST" envDefault:"100"`
}

const prefix = "RECRUITD_"

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: prefix})
}

// FromMap parses settings from a map instead of the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.AuthSecret) < 32 {
		errs = append(errs, errors.New("RECRUITD_AUTH_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("RECRUITD_SESSION_TTL must be positive"))
	}
	if c.ApprovalTokenTTL <= 0 {
		errs = append(errs, errors.New("RECRUITD_APPROVAL_TOKEN_TTL must be positive"))
	}
	if c.NotifyBatch <= 0 || c.NotifyMaxAttempts <= 0 {
		errs = append(errs, errors.New("notification batch and max attempts must be positive"))
	}
	if c.RatePerSecond <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	return errors.Join(errs...)
}
