package webhooks

import (
	"errors"
	"fmt"

	"hookline/internal/store"
)

var (
	// ErrNotFound never distinguishes "exists but owned by another tenant" from "does not exist".
	ErrNotFound      = store.ErrNotFound
	ErrInactive      = errors.New("webhook inactive")
	ErrConfiguration = errors.New("webhook misconfigured")
)

// ConfigurationError is fatal for a delivery: it is recorded and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
