// Package config loads and validates the signalbridge.yaml configuration.
package config

import (
	"time"

	"github.com/signalbridge/signalbridge/pkg/store"
)

// SecretsBackend selects where provider credentials are stored.
type SecretsBackend string

const (
	SecretsBackendMemory SecretsBackend = "memory"
	SecretsBackendAWS    SecretsBackend = "aws"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// PublicURL is the externally reachable base URL; webhook callback
	// URLs are derived from it.
	PublicURL string

	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string

	Secrets  SecretsConfig
	Database store.Config

	// ScopeCheckTimeout bounds each individual scope probe.
	ScopeCheckTimeout time.Duration

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
}

// SecretsConfig selects and parameterizes the secrets backend.
type SecretsConfig struct {
	Backend SecretsBackend
	// Region applies to the aws backend.
	Region string
}

// applyDefaults fills unset values with built-in defaults.
func (c *Config) applyDefaults() {
	if c.PublicURL == "" {
		c.PublicURL = "http://localhost:8080"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Secrets.Backend == "" {
		c.Secrets.Backend = SecretsBackendMemory
	}
	if c.ScopeCheckTimeout <= 0 {
		c.ScopeCheckTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "signalbridge"
	}
	if c.Database.Database == "" {
		c.Database.Database = "signalbridge"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
}

// validate rejects configurations that cannot work at runtime.
func (c *Config) validate() error {
	switch c.Secrets.Backend {
	case SecretsBackendMemory:
	case SecretsBackendAWS:
		if c.Secrets.Region == "" {
			return NewValidationError("secrets", "region", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("secrets", "backend", ErrInvalidValue)
	}
	if c.Database.Password == "" {
		return NewValidationError("database", "password", ErrMissingRequiredField)
	}
	return nil
}
