// Package providers defines the provider contract, the type registry, and
// the scope-validation protocol shared by all vendor integrations.
package providers

import (
	"context"
	"encoding/json"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// Provider is the minimal contract every vendor integration satisfies.
// Instances are constructed per call, carry only immutable configuration
// and clients, and are safe for concurrent use.
type Provider interface {
	// Type returns the registry discriminator, e.g. "datadog".
	Type() string

	// ValidateScopes probes every scope the provider declares and returns
	// one entry per declared scope. Probe failures are recorded as denial
	// reasons, never as a batch error.
	ValidateScopes(ctx context.Context) models.ScopeResults
}

// AlertFetcher pulls current alerts from the vendor and normalizes them.
// Normalization failures of individual items are skipped, not fatal.
type AlertFetcher interface {
	GetAlerts(ctx context.Context) ([]*models.Alert, error)
}

// ConfigurationReader lists the vendor-side alert definitions (monitors,
// rules, alarms) in their raw vendor shape.
type ConfigurationReader interface {
	GetAlertsConfiguration(ctx context.Context, alertID string) ([]json.RawMessage, error)
}

// AlertDeployer creates or updates an alert definition on the vendor side.
type AlertDeployer interface {
	DeployAlert(ctx context.Context, alert json.RawMessage, alertID string) (json.RawMessage, error)
}

// LogFetcher retrieves recent raw log events from the vendor.
type LogFetcher interface {
	GetLogs(ctx context.Context, limit int) ([]json.RawMessage, error)
}

// WebhookRequest carries everything a provider needs to provision push
// ingestion on the vendor side.
type WebhookRequest struct {
	TenantID    string
	CallbackURL string
	APIKey      string
	// SetupAlerts retrofits existing vendor alert definitions to route
	// through the webhook, where the vendor requires per-definition wiring.
	SetupAlerts bool
}

// WebhookInstaller provisions vendor-side push delivery to the callback URL.
// Implementations are idempotent: repeat calls with an unchanged callback
// perform no vendor mutation.
type WebhookInstaller interface {
	SetupWebhook(ctx context.Context, req WebhookRequest) error
}
