package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signalbridge.yaml"), []byte(content), 0o600))
	return dir
}

func TestInitialize(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		dir := writeConfig(t, `
public_url: https://bridge.example.com
listen_addr: ":9090"
secrets:
  backend: aws
  region: eu-west-1
database:
  host: db.internal
  port: 5433
  user: bridge
  password: hunter2
  database: bridge
  ssl_mode: require
  max_conns: 25
scope_check_timeout: 5s
shutdown_timeout: 30s
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)

		assert.Equal(t, "https://bridge.example.com", cfg.PublicURL)
		assert.Equal(t, ":9090", cfg.ListenAddr)
		assert.Equal(t, SecretsBackendAWS, cfg.Secrets.Backend)
		assert.Equal(t, "eu-west-1", cfg.Secrets.Region)
		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, int32(25), cfg.Database.MaxConns)
		assert.Equal(t, 5*time.Second, cfg.ScopeCheckTimeout)
		assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	})

	t.Run("defaults applied", func(t *testing.T) {
		dir := writeConfig(t, `
database:
  password: hunter2
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:8080", cfg.PublicURL)
		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, SecretsBackendMemory, cfg.Secrets.Backend)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, 10*time.Second, cfg.ScopeCheckTimeout)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("TEST_DB_PASSWORD", "s3cret$with$dollars")
		dir := writeConfig(t, `
database:
  password: "{{.TEST_DB_PASSWORD}}"
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)
		assert.Equal(t, "s3cret$with$dollars", cfg.Database.Password)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Initialize(t.TempDir())
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := writeConfig(t, "public_url: [unbalanced")
		_, err := Initialize(dir)
		assert.ErrorIs(t, err, ErrInvalidYAML)
	})

	t.Run("aws backend requires region", func(t *testing.T) {
		dir := writeConfig(t, `
secrets:
  backend: aws
database:
  password: hunter2
`)
		_, err := Initialize(dir)
		assert.ErrorIs(t, err, ErrMissingRequiredField)
	})

	t.Run("unknown secrets backend rejected", func(t *testing.T) {
		dir := writeConfig(t, `
secrets:
  backend: vault
database:
  password: hunter2
`)
		_, err := Initialize(dir)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("missing database password rejected", func(t *testing.T) {
		dir := writeConfig(t, "public_url: https://bridge.example.com\n")
		_, err := Initialize(dir)
		assert.ErrorIs(t, err, ErrMissingRequiredField)
	})

	t.Run("invalid duration falls back to default", func(t *testing.T) {
		dir := writeConfig(t, `
database:
  password: hunter2
scope_check_timeout: soon
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.ScopeCheckTimeout)
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_TEST_VAR", "value-123")

	t.Run("expands known variables", func(t *testing.T) {
		out := ExpandEnv([]byte("key: {{.EXPAND_TEST_VAR}}"))
		assert.Equal(t, "key: value-123", string(out))
	})

	t.Run("missing variables become empty", func(t *testing.T) {
		out := ExpandEnv([]byte("key: {{.DOES_NOT_EXIST_XYZ}}"))
		assert.Equal(t, "key: ", string(out))
	})

	t.Run("literal dollars untouched", func(t *testing.T) {
		in := []byte("template: $EVENT_MSG $ID")
		assert.Equal(t, in, ExpandEnv(in))
	})

	t.Run("malformed template passes through", func(t *testing.T) {
		in := []byte("key: {{.unclosed")
		assert.Equal(t, in, ExpandEnv(in))
	})
}
