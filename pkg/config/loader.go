package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// signalbridgeYAML represents the complete signalbridge.yaml file structure.
type signalbridgeYAML struct {
	PublicURL  string `yaml:"public_url"`
	ListenAddr string `yaml:"listen_addr"`

	Secrets *secretsYAML `yaml:"secrets"`

	Database *databaseYAML `yaml:"database"`

	ScopeCheckTimeout string `yaml:"scope_check_timeout"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

type secretsYAML struct {
	Backend string `yaml:"backend"`
	Region  string `yaml:"region"`
}

type databaseYAML struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load signalbridge.yaml from configDir
//  2. Expand environment variables
//  3. Apply default values
//  4. Validate the configuration
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw, err := loadYAML(configDir, "signalbridge.yaml")
	if err != nil {
		return nil, &LoadError{File: "signalbridge.yaml", Err: err}
	}

	cfg := resolve(raw)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"public_url", cfg.PublicURL,
		"listen_addr", cfg.ListenAddr,
		"secrets_backend", cfg.Secrets.Backend)
	return cfg, nil
}

func loadYAML(configDir, filename string) (*signalbridgeYAML, error) {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	var raw signalbridgeYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &raw, nil
}

// resolve maps the YAML shape onto the runtime Config.
func resolve(raw *signalbridgeYAML) *Config {
	cfg := &Config{
		PublicURL:  raw.PublicURL,
		ListenAddr: raw.ListenAddr,
	}

	if raw.Secrets != nil {
		cfg.Secrets = SecretsConfig{
			Backend: SecretsBackend(raw.Secrets.Backend),
			Region:  raw.Secrets.Region,
		}
	}

	if raw.Database != nil {
		cfg.Database.Host = raw.Database.Host
		cfg.Database.Port = raw.Database.Port
		cfg.Database.User = raw.Database.User
		cfg.Database.Password = raw.Database.Password
		cfg.Database.Database = raw.Database.Database
		cfg.Database.SSLMode = raw.Database.SSLMode
		cfg.Database.MaxConns = raw.Database.MaxConns
	}

	cfg.ScopeCheckTimeout = parseDuration(raw.ScopeCheckTimeout, "scope_check_timeout")
	cfg.ShutdownTimeout = parseDuration(raw.ShutdownTimeout, "shutdown_timeout")
	return cfg
}

// parseDuration parses a YAML duration string; invalid values fall back to
// the built-in default with a warning.
func parseDuration(raw, field string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", raw,
			"error", err)
		return 0
	}
	return d
}
