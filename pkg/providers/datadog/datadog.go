// Package datadog integrates Datadog monitors, logs, and webhook
// integrations over the v1 REST API.
package datadog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/signalbridge/signalbridge/pkg/metrics"
	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
)

const (
	// ProviderType is the registry discriminator.
	ProviderType = "datadog"

	defaultAPIURL = "https://api.datadoghq.com"

	// webhookIntegrationPrefix namespaces per-tenant webhook integrations
	// on the Datadog side.
	webhookIntegrationPrefix = "signalbridge-datadog-webhook-integration"

	// scopeProbeWebhookName is the throwaway integration used to probe the
	// create_webhooks scope.
	scopeProbeWebhookName = "signalbridge-webhook-scope-validation"

	requestTimeout   = 30 * time.Second
	scopeProbeLimit  = 10 * time.Second
	logsDefaultSpan  = 7 * 24 * time.Hour
	logsDefaultLimit = 5
)

var authFields = []models.AuthField{
	{
		Name:        "api_key",
		Required:    true,
		Sensitive:   true,
		Description: "Datadog Api Key",
		Hint:        "https://docs.datadoghq.com/account_management/api-app-keys/#api-keys",
	},
	{
		Name:        "app_key",
		Required:    true,
		Sensitive:   true,
		Description: "Datadog App Key",
		Hint:        "https://docs.datadoghq.com/account_management/api-app-keys/#application-keys",
	},
	{
		Name:        "api_url",
		Description: "Datadog API site, e.g. https://api.datadoghq.eu",
		Default:     defaultAPIURL,
	},
}

var scopes = []models.ProviderScope{
	{
		Name:             "monitors_read",
		Description:      "Read monitors",
		Mandatory:        true,
		DocumentationURL: "https://docs.datadoghq.com/account_management/rbac/permissions/#monitors",
		Alias:            "Monitors Read",
	},
	{
		Name:                "monitors_write",
		Description:         "Write monitors",
		MandatoryForWebhook: true,
		DocumentationURL:    "https://docs.datadoghq.com/account_management/rbac/permissions/#monitors",
		Alias:               "Monitors Write",
	},
	{
		Name:                "create_webhooks",
		Description:         "Create webhooks integrations",
		MandatoryForWebhook: true,
		Alias:               "Integrations Manage",
	},
	{
		Name:        "metrics_read",
		Description: "View custom metrics.",
	},
	{
		Name:        "logs_read",
		Description: "Read log data.",
		Alias:       "Logs Read Data",
	},
}

// Provider is a configured Datadog integration. Instances are immutable
// and safe for concurrent use.
type Provider struct {
	id         string
	apiURL     string
	apiKey     string
	appKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New validates cfg and constructs a Provider. Validation failures return
// a ConfigValidationError and construct nothing.
func New(id string, cfg models.ProviderConfig) (*Provider, error) {
	auth, err := providers.ValidateAuth(ProviderType, authFields, cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{
		id:         id,
		apiURL:     auth["api_url"],
		apiKey:     auth["api_key"],
		appKey:     auth["app_key"],
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default().With("component", "datadog", "provider_id", id),
	}, nil
}

// Definition is the registry entry for Datadog.
func Definition() providers.Definition {
	return providers.Definition{
		Type:        ProviderType,
		DisplayName: "Datadog",
		Description: "Datadog monitoring: monitors, logs and webhook push delivery.",
		AuthFields:  authFields,
		Scopes:      scopes,
		New: func(id string, cfg models.ProviderConfig) (providers.Provider, error) {
			return New(id, cfg)
		},
		FormatAlert:        FormatAlert,
		OAuth2:             OAuth2Exchange,
		OAuth2URL:          "https://app.datadoghq.com/oauth2/v1/authorize",
		AlertSchema:        AlertSchema,
		WebhookDescription: "Install a Datadog webhooks integration and route every monitor through it.",
		WebhookTemplate:    webhookPayloadTemplate,
		Capabilities: models.ProviderCapabilities{
			Alerts:             true,
			AlertConfiguration: true,
			DeployAlert:        true,
			Logs:               true,
			Webhook:            true,
		},
	}
}

func (p *Provider) Type() string { return ProviderType }

// do executes one authenticated API call and returns the response body.
// Non-2xx responses become VendorErrors carrying the vendor body.
func (p *Provider) do(ctx context.Context, method, path string, body any, operation string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("DD-API-KEY", p.apiKey)
	req.Header.Set("DD-APPLICATION-KEY", p.appKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		metrics.VendorCallErrors.WithLabelValues(ProviderType, operation).Inc()
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VendorCallErrors.WithLabelValues(ProviderType, operation).Inc()
		return data, &providers.VendorError{
			Provider:   ProviderType,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	return data, nil
}

// ValidateScopes probes each declared scope independently and in parallel.
func (p *Provider) ValidateScopes(ctx context.Context) models.ScopeResults {
	p.logger.Info("validating scopes")
	results := providers.RunScopeChecks(ctx, scopes, p.checkScope, scopeProbeLimit)
	for name, res := range results {
		if !res.Confirmed {
			metrics.ScopeCheckFailures.WithLabelValues(ProviderType, name).Inc()
		}
	}
	return results
}

func (p *Provider) checkScope(ctx context.Context, scope models.ProviderScope) error {
	switch scope.Name {
	case "monitors_read":
		_, err := p.do(ctx, http.MethodGet, "/api/v1/monitor", nil, "list monitors")
		return err
	case "monitors_write":
		return p.probeMonitorsWrite(ctx)
	case "create_webhooks":
		return p.probeCreateWebhooks(ctx)
	case "metrics_read":
		from := time.Now().Add(-time.Hour).Unix()
		path := fmt.Sprintf("/api/v1/metrics?from=%d", from)
		_, err := p.do(ctx, http.MethodGet, path, nil, "list metrics")
		return err
	case "logs_read":
		body := map[string]any{"limit": 1}
		_, err := p.do(ctx, http.MethodPost, "/api/v1/logs-queries/list", body, "list logs")
		return err
	default:
		return fmt.Errorf("unknown scope %q", scope.Name)
	}
}

// probeMonitorsWrite creates a throwaway monitor and deletes it again.
func (p *Provider) probeMonitorsWrite(ctx context.Context) error {
	body := map[string]any{
		"name":     "signalbridge-scope-validation",
		"type":     "metric alert",
		"query":    "avg(last_5m):avg:system.cpu.user{*} > 99",
		"message":  "scope validation probe",
		"tags":     []string{"test:signalbridge"},
		"priority": 3,
		"options": map[string]any{
			"thresholds":        map[string]any{"critical": 99},
			"notify_no_data":    false,
			"renotify_interval": 60,
		},
	}
	data, err := p.do(ctx, http.MethodPost, "/api/v1/monitor", body, "create monitor")
	if err != nil {
		return err
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return fmt.Errorf("decode created monitor: %w", err)
	}
	// Cleanup is best-effort, the scope is already proven.
	if _, err := p.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/monitor/%d", created.ID), nil, "delete monitor"); err != nil {
		p.logger.Warn("could not delete probe monitor", "monitor_id", created.ID, "error", err)
	}
	return nil
}

// probeCreateWebhooks POSTs a probe integration. Datadog offers no scope
// for deleting webhooks, so any outcome except 403 proves the permission;
// "already exists" from a previous probe counts as proven too.
func (p *Provider) probeCreateWebhooks(ctx context.Context) error {
	body := map[string]any{
		"name": scopeProbeWebhookName,
		"url":  "https://example.com",
	}
	_, err := p.do(ctx, http.MethodPost, "/api/v1/integration/webhooks/configuration/webhooks", body, "create webhook")
	if err != nil {
		var vendorErr *providers.VendorError
		if errors.As(err, &vendorErr) && vendorErr.StatusCode != http.StatusForbidden {
			return nil
		}
		return err
	}
	return nil
}

type monitor struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"name"`
	Message              string   `json:"message"`
	OverallState         string   `json:"overall_state"`
	OverallStateModified string   `json:"overall_state_modified"`
	Priority             int      `json:"priority"`
	Tags                 []string `json:"tags"`
}

func (p *Provider) listMonitors(ctx context.Context) ([]monitor, []json.RawMessage, error) {
	data, err := p.do(ctx, http.MethodGet, "/api/v1/monitor", nil, "list monitors")
	if err != nil {
		var vendorErr *providers.VendorError
		if errors.As(err, &vendorErr) {
			return nil, nil, &providers.AlertRetrievalError{
				Message:    vendorErr.Body,
				StatusCode: vendorErr.StatusCode,
			}
		}
		return nil, nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode monitors: %w", err)
	}
	monitors := make([]monitor, len(raw))
	for i, item := range raw {
		if err := json.Unmarshal(item, &monitors[i]); err != nil {
			return nil, nil, fmt.Errorf("decode monitor: %w", err)
		}
	}
	return monitors, raw, nil
}

// GetAlerts lists monitors and normalizes each into a canonical alert.
// Monitors that fail normalization are skipped.
func (p *Provider) GetAlerts(ctx context.Context) ([]*models.Alert, error) {
	monitors, _, err := p.listMonitors(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]*models.Alert, 0, len(monitors))
	for _, m := range monitors {
		alert, err := monitorToAlert(m)
		if err != nil {
			p.logger.Warn("skipping monitor", "monitor_id", m.ID, "error", err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func monitorToAlert(m monitor) (*models.Alert, error) {
	extra := map[string]any{
		"monitor_id":   m.ID,
		"monitor_name": m.Name,
	}
	for _, tag := range m.Tags {
		k, v, ok := splitTag(tag)
		if !ok {
			continue
		}
		extra[k] = v
	}

	lastReceived, err := time.Parse(time.RFC3339, m.OverallStateModified)
	if err != nil {
		return nil, fmt.Errorf("monitor %d: parse overall_state_modified: %w", m.ID, err)
	}

	alert := &models.Alert{
		ID:           fmt.Sprintf("%d", m.ID),
		Name:         m.Name,
		Status:       monitorStatus(m.OverallState),
		Severity:     priorityToSeverity(fmt.Sprintf("P%d", m.Priority)),
		LastReceived: lastReceived,
		Message:      m.Message,
		Description:  m.Name,
		Source:       []string{ProviderType},
		Extra:        extra,
	}
	alert.Finalize()
	return alert, nil
}

func splitTag(tag string) (string, string, bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ':' {
			return tag[:i], tag[i+1:], true
		}
	}
	return "", "", false
}

func monitorStatus(state string) models.AlertStatus {
	switch state {
	case "Alert", "Warn":
		return models.StatusFiring
	case "OK":
		return models.StatusResolved
	default:
		return models.AlertStatus(state)
	}
}

func priorityToSeverity(priority string) models.AlertSeverity {
	switch priority {
	case "P1":
		return models.SeverityCritical
	case "P2":
		return models.SeverityHigh
	case "P3":
		return models.SeverityMedium
	case "P4":
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

// GetAlertsConfiguration lists monitor definitions in vendor shape,
// optionally narrowed to one monitor ID.
func (p *Provider) GetAlertsConfiguration(ctx context.Context, alertID string) ([]json.RawMessage, error) {
	monitors, raw, err := p.listMonitors(ctx)
	if err != nil {
		return nil, err
	}
	if alertID == "" {
		return raw, nil
	}
	var filtered []json.RawMessage
	for i, m := range monitors {
		if fmt.Sprintf("%d", m.ID) == alertID {
			filtered = append(filtered, raw[i])
		}
	}
	return filtered, nil
}

// DeployAlert creates a monitor from its vendor-shape definition. Vendor
// rejections are relayed with their body intact.
func (p *Provider) DeployAlert(ctx context.Context, alert json.RawMessage, _ string) (json.RawMessage, error) {
	var body any
	if err := json.Unmarshal(alert, &body); err != nil {
		return nil, fmt.Errorf("decode alert definition: %w", err)
	}
	data, err := p.do(ctx, http.MethodPost, "/api/v1/monitor", body, "create monitor")
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetLogs returns the most recent log events over the last seven days.
func (p *Provider) GetLogs(ctx context.Context, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = logsDefaultLimit
	}
	now := time.Now()
	body := map[string]any{
		"limit": limit,
		"time": map[string]any{
			"from": now.Add(-logsDefaultSpan).Format(time.RFC3339),
			"to":   now.Format(time.RFC3339),
		},
	}
	data, err := p.do(ctx, http.MethodPost, "/api/v1/logs-queries/list", body, "list logs")
	if err != nil {
		return nil, err
	}
	var result struct {
		Logs []json.RawMessage `json:"logs"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return result.Logs, nil
}

// OAuth2Exchange trades an authorization code for API credentials.
func OAuth2Exchange(params map[string]string) (map[string]string, error) {
	code := params["code"]
	if code == "" {
		return nil, &providers.ConfigValidationError{
			Provider: ProviderType,
			Field:    "code",
			Message:  "authorization code is missing",
		}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	for _, key := range []string{"client_id", "client_secret", "redirect_uri", "code_verifier"} {
		if v := params[key]; v != "" {
			form.Set(key, v)
		}
	}

	site := params["api_url"]
	if site == "" {
		site = defaultAPIURL
	}
	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.PostForm(site+"/oauth2/v1/token", form)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &providers.VendorError{
			Provider:   ProviderType,
			Operation:  "token exchange",
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return map[string]string{
		"api_key": token.AccessToken,
		"app_key": token.AccessToken,
		"api_url": site,
	}, nil
}
