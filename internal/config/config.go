// Package config loads service configuration: defaults, then an optional YAML
// file named by HOOKLINE_CONFIG, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string  `yaml:"port"`
	DatabaseURL string  `yaml:"databaseUrl"`
	RedisURL    string  `yaml:"redisUrl"`
	Migrate     bool    `yaml:"migrate"`
	LogLevel    string  `yaml:"logLevel"`
	LogDev      bool    `yaml:"logDev"`
	Webhook     Webhook `yaml:"webhook"`
	Rate        Rate    `yaml:"rate"`
	Auth        Auth    `yaml:"auth"`
}

type Webhook struct {
	MaxAttempts   int           `yaml:"maxAttempts"`
	BackoffBase   time.Duration `yaml:"backoffBase"`
	BackoffMax    time.Duration `yaml:"backoffMax"`
	Jitter        float64       `yaml:"jitter"`
	Timeout       time.Duration `yaml:"timeout"`
	Lease         time.Duration `yaml:"lease"`
	Scheduler     string        `yaml:"scheduler"` // timer | redis
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// Rate limits API requests per tenant. RPS <= 0 disables limiting.
type Rate struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Auth struct {
	Mode        string `yaml:"mode"` // dev | hmac | jwks
	HMACSecret  string `yaml:"hmacSecret"`
	JWKSURL     string `yaml:"jwksUrl"`
	TenantClaim string `yaml:"tenantClaim"`
	RoleClaim   string `yaml:"roleClaim"`
}

func Default() Config {
	return Config{
		Port:     "8080",
		Migrate:  true,
		LogLevel: "info",
		Webhook: Webhook{
			MaxAttempts:   5,
			BackoffBase:   2 * time.Second,
			BackoffMax:    5 * time.Minute,
			Jitter:        0.2,
			Timeout:       10 * time.Second,
			Lease:         30 * time.Second,
			Scheduler:     "timer",
			SweepInterval: 5 * time.Second,
		},
		Rate: Rate{RPS: 20, Burst: 40},
		Auth: Auth{Mode: "dev", TenantClaim: "tenant", RoleClaim: "role"},
	}
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv("HOOKLINE_CONFIG"), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	boolean("DB_MIGRATE", &c.Migrate)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_DEV", &c.LogDev)

	integer("WEBHOOK_MAX_ATTEMPTS", &c.Webhook.MaxAttempts)
	duration("WEBHOOK_BACKOFF_BASE", &c.Webhook.BackoffBase)
	duration("WEBHOOK_BACKOFF_MAX", &c.Webhook.BackoffMax)
	float("WEBHOOK_BACKOFF_JITTER", &c.Webhook.Jitter)
	duration("WEBHOOK_TIMEOUT", &c.Webhook.Timeout)
	duration("WEBHOOK_LEASE", &c.Webhook.Lease)
	str("WEBHOOK_SCHEDULER", &c.Webhook.Scheduler)
	duration("WEBHOOK_SWEEP_INTERVAL", &c.Webhook.SweepInterval)

	float("RATE_RPS", &c.Rate.RPS)
	integer("RATE_BURST", &c.Rate.Burst)

	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("AUTH_JWKS_URL", &c.Auth.JWKSURL)
	str("AUTH_TENANT_CLAIM", &c.Auth.TenantClaim)
	str("AUTH_ROLE_CLAIM", &c.Auth.RoleClaim)

	c.Webhook.Scheduler = strings.ToLower(c.Webhook.Scheduler)
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	w := c.Webhook
	if w.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook.maxAttempts must be >= 1"))
	}
	if w.BackoffBase <= 0 || w.BackoffMax <= 0 {
		errs = append(errs, errors.New("webhook backoff durations must be positive"))
	}
	if w.BackoffBase > w.BackoffMax {
		errs = append(errs, errors.New("webhook.backoffBase must not exceed webhook.backoffMax"))
	}
	if w.Jitter < 0 || w.Jitter >= 1 {
		errs = append(errs, errors.New("webhook.jitter must be in [0,1)"))
	}
	if w.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}
	if w.Lease <= w.Timeout {
		errs = append(errs, errors.New("webhook.lease must exceed webhook.timeout"))
	}
	if w.SweepInterval <= 0 {
		errs = append(errs, errors.New("webhook.sweepInterval must be positive"))
	}
	switch w.Scheduler {
	case "timer":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("webhook.scheduler=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown webhook.scheduler %q", w.Scheduler))
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth.mode=hmac requires AUTH_HMAC_SECRET"))
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			errs = append(errs, errors.New("auth.mode=jwks requires AUTH_JWKS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}
	if c.Rate.RPS > 0 && c.Rate.Burst < 1 {
		errs = append(errs, errors.New("rate.burst must be >= 1 when rate limiting is on"))
	}
	return errors.Join(errs...)
}

// Public is the effective configuration with secrets and connection strings elided.
func (c Config) Public() map[string]any {
	return map[string]any{
		"port":            c.Port,
		"hasDatabaseUrl":  c.DatabaseURL != "",
		"hasRedisUrl":     c.RedisURL != "",
		"logLevel":        c.LogLevel,
		"authMode":        c.Auth.Mode,
		"rateRps":         c.Rate.RPS,
		"rateBurst":       c.Rate.Burst,
		"maxAttempts":     c.Webhook.MaxAttempts,
		"backoffBase":     c.Webhook.BackoffBase.String(),
		"backoffMax":      c.Webhook.BackoffMax.String(),
		"backoffJitter":   c.Webhook.Jitter,
		"deliveryTimeout": c.Webhook.Timeout.String(),
		"scheduler":       c.Webhook.Scheduler,
		"sweepInterval":   c.Webhook.SweepInterval.String(),
	}
}
