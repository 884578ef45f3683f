package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Webhook.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.BackoffMax)
	assert.Equal(t, "timer", cfg.Webhook.Scheduler)
	assert.Equal(t, "dev", cfg.Auth.Mode)
}

func TestYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hookline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
webhook:
  maxAttempts: 3
  backoffBase: 500ms
  timeout: 4s
rate:
  rps: 5
  burst: 10
`), 0o600))

	cfg, err := load(path, env(map[string]string{
		"WEBHOOK_MAX_ATTEMPTS": "7",
		"WEBHOOK_SCHEDULER":    "REDIS",
		"REDIS_URL":            "redis://localhost:6379/0",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 7, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Webhook.BackoffBase)
	assert.Equal(t, 4*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "redis", cfg.Webhook.Scheduler)
	assert.Equal(t, 5.0, cfg.Rate.RPS)
}

func TestUnknownYAMLKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("webhok:\n  maxAttempts: 2\n"), 0o600))
	_, err := load(path, env(nil))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"zero attempts":      {"WEBHOOK_MAX_ATTEMPTS": "0"},
		"base above cap":     {"WEBHOOK_BACKOFF_BASE": "10m"},
		"bad duration":       {"WEBHOOK_TIMEOUT": "soon"},
		"lease under timout": {"WEBHOOK_LEASE": "1s"},
		"redis without url":  {"WEBHOOK_SCHEDULER": "redis"},
		"unknown scheduler":  {"WEBHOOK_SCHEDULER": "cron"},
		"hmac without key":   {"AUTH_MODE": "hmac"},
		"bad jitter":         {"WEBHOOK_BACKOFF_JITTER": "1.5"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load("", env(vars))
			assert.Error(t, err)
		})
	}
}

func TestPublicOmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://user:pw@db/hookline"
	cfg.Auth.HMACSecret = "topsecret"
	pub := cfg.Public()
	assert.Equal(t, true, pub["hasDatabaseUrl"])
	for _, v := range pub {
		assert.NotEqual(t, cfg.DatabaseURL, v)
		assert.NotEqual(t, "topsecret", v)
	}
}
