// Signalbridge server — exposes the provider lifecycle API and the
// push-ingestion endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalbridge/signalbridge/pkg/api"
	"github.com/signalbridge/signalbridge/pkg/config"
	"github.com/signalbridge/signalbridge/pkg/providers/builtin"
	"github.com/signalbridge/signalbridge/pkg/secrets"
	"github.com/signalbridge/signalbridge/pkg/services"
	"github.com/signalbridge/signalbridge/pkg/store"
	"github.com/signalbridge/signalbridge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newSecretsManager builds the configured secrets backend.
func newSecretsManager(ctx context.Context, cfg config.SecretsConfig) (secrets.Manager, error) {
	switch cfg.Backend {
	case config.SecretsBackendAWS:
		return secrets.NewAWSManager(ctx, cfg.Region)
	default:
		slog.Warn("Using in-memory secrets backend, provider credentials will not survive restarts")
		return secrets.NewMemoryManager(), nil
	}
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to PostgreSQL and apply migrations
	recordStore, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer recordStore.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Initialize secrets backend
	secretManager, err := newSecretsManager(ctx, cfg.Secrets)
	if err != nil {
		slog.Error("Failed to initialize secrets backend", "error", err)
		os.Exit(1)
	}

	// 4. Register built-in provider types and wire the service layer
	registry := builtin.Registry()
	providerService := services.NewProviderService(registry, recordStore, secretManager, cfg.PublicURL)
	providerService.SetScopeTimeout(cfg.ScopeCheckTimeout)
	slog.Info("Provider registry initialized", "types", len(registry.Definitions()))

	// 5. Create HTTP server
	server := api.NewServer(providerService, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return recordStore.Ping(pingCtx)
	})
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	// 6. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Signalbridge started successfully",
		"version", version.Full(),
		"public_url", cfg.PublicURL)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
