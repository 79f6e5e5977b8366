// Package grafana integrates Grafana alerting over the provisioning and
// prometheus-compatible rule APIs.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/signalbridge/signalbridge/pkg/metrics"
	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
)

const (
	// ProviderType is the registry discriminator.
	ProviderType = "grafana"

	webhookContactPointPrefix = "signalbridge-grafana-webhook-integration"

	provisioningPath = "/api/v1/provisioning"

	requestTimeout  = 30 * time.Second
	scopeProbeLimit = 10 * time.Second
)

// permissionsHint is appended to 403 responses so operators can debug the
// service-account token themselves.
const permissionsHint = "\nYou can test your permissions with \n\tcurl -H 'Authorization: Bearer {token}' -X GET '%s/api/access-control/user/permissions' | jq \nDocs: https://grafana.com/docs/grafana/latest/administration/service-accounts/#debug-the-permissions-of-a-service-account-token"

var authFields = []models.AuthField{
	{
		Name:        "token",
		Required:    true,
		Sensitive:   true,
		Description: "Token",
		Hint:        "Grafana service account token",
	},
	{
		Name:        "host",
		Required:    true,
		Description: "Grafana host",
		Hint:        "e.g. https://myorg.grafana.net",
	},
}

var scopes = []models.ProviderScope{
	{
		Name:             "alert_rules_read",
		Description:      "Read provisioned alert rules",
		Mandatory:        true,
		DocumentationURL: "https://grafana.com/docs/grafana/latest/administration/roles-and-permissions/access-control/",
		Alias:            "Alert Rules Read",
	},
	{
		Name:                "contact_points_write",
		Description:         "Manage contact points and notification policies",
		MandatoryForWebhook: true,
		Alias:               "Contact Points Write",
	},
}

// Provider is a configured Grafana integration.
type Provider struct {
	id         string
	host       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New validates cfg and constructs a Provider. A host without a scheme is
// defaulted to https.
func New(id string, cfg models.ProviderConfig) (*Provider, error) {
	auth, err := providers.ValidateAuth(ProviderType, authFields, cfg)
	if err != nil {
		return nil, err
	}
	host := auth["host"]
	if !strings.HasPrefix(host, "https://") && !strings.HasPrefix(host, "http://") {
		host = "https://" + host
	}
	return &Provider{
		id:         id,
		host:       strings.TrimSuffix(host, "/"),
		token:      auth["token"],
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default().With("component", "grafana", "provider_id", id),
	}, nil
}

// Definition is the registry entry for Grafana.
func Definition() providers.Definition {
	return providers.Definition{
		Type:        ProviderType,
		DisplayName: "Grafana",
		Description: "Grafana alerting: provisioned rules and webhook contact points.",
		AuthFields:  authFields,
		Scopes:      scopes,
		New: func(id string, cfg models.ProviderConfig) (providers.Provider, error) {
			return New(id, cfg)
		},
		FormatAlert:        FormatAlert,
		AlertSchema:        AlertSchema,
		WebhookDescription: "Create a webhook contact point and route the notification policy tree through it.",
		Capabilities: models.ProviderCapabilities{
			Alerts:             true,
			AlertConfiguration: true,
			DeployAlert:        true,
			Webhook:            true,
		},
	}
}

func (p *Provider) Type() string { return ProviderType }

func (p *Provider) do(ctx context.Context, method, path string, body any, operation string, extraHeaders map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.host+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		metrics.VendorCallErrors.WithLabelValues(ProviderType, operation).Inc()
		return nil, 0, fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VendorCallErrors.WithLabelValues(ProviderType, operation).Inc()
		return data, resp.StatusCode, &providers.VendorError{
			Provider:   ProviderType,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	return data, resp.StatusCode, nil
}

// ValidateScopes probes the declared scopes in parallel.
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
	case "alert_rules_read":
		_, _, err := p.do(ctx, http.MethodGet, provisioningPath+"/alert-rules", nil, "list alert rules", nil)
		return err
	case "contact_points_write":
		_, _, err := p.do(ctx, http.MethodGet, provisioningPath+"/contact-points", nil, "list contact points", nil)
		return err
	default:
		return fmt.Errorf("unknown scope %q", scope.Name)
	}
}

// GetAlertsConfiguration lists provisioned alert rules in vendor shape.
// A 403 gets the permissions-debug hint appended before relay.
func (p *Provider) GetAlertsConfiguration(ctx context.Context, alertID string) ([]json.RawMessage, error) {
	data, status, err := p.do(ctx, http.MethodGet, provisioningPath+"/alert-rules", nil, "list alert rules", nil)
	if err != nil {
		message := string(data)
		if status == http.StatusForbidden {
			message += fmt.Sprintf(permissionsHint, p.host)
		}
		var vendorErr *providers.VendorError
		if errors.As(err, &vendorErr) {
			return nil, &providers.AlertRetrievalError{Message: message, StatusCode: status}
		}
		return nil, err
	}

	var rules []json.RawMessage
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode alert rules: %w", err)
	}
	if alertID == "" {
		return rules, nil
	}
	var filtered []json.RawMessage
	for _, rule := range rules {
		var meta struct {
			UID string `json:"uid"`
		}
		if err := json.Unmarshal(rule, &meta); err != nil {
			continue
		}
		if meta.UID == alertID {
			filtered = append(filtered, rule)
		}
	}
	return filtered, nil
}

// DeployAlert provisions a new alert rule.
func (p *Provider) DeployAlert(ctx context.Context, alert json.RawMessage, _ string) (json.RawMessage, error) {
	p.logger.Info("deploying alert")
	var body any
	if err := json.Unmarshal(alert, &body); err != nil {
		return nil, fmt.Errorf("decode alert definition: %w", err)
	}
	data, _, err := p.do(ctx, http.MethodPost, provisioningPath+"/alert-rules", body, "create alert rule", nil)
	if err != nil {
		return nil, err
	}
	p.logger.Info("alert deployed")
	return data, nil
}

// ruleGroups is the prometheus-compatible rules response shape.
type ruleGroups struct {
	Data struct {
		Groups []struct {
			Rules []struct {
				ID     json.Number `json:"id"`
				Name   string      `json:"name"`
				State  string      `json:"state"`
				Alerts []struct {
					State       string            `json:"state"`
					ActiveAt    time.Time         `json:"activeAt"`
					Labels      map[string]string `json:"labels"`
					Annotations map[string]string `json:"annotations"`
				} `json:"alerts"`
			} `json:"rules"`
		} `json:"groups"`
	} `json:"data"`
}

// GetAlerts reads firing alert instances from both rule endpoints. An
// unreachable endpoint is skipped, and rules are deduplicated by ID.
func (p *Provider) GetAlerts(ctx context.Context) ([]*models.Alert, error) {
	endpoints := []struct {
		path   string
		source []string
	}{
		{"/api/prometheus/grafana/api/v1/rules", []string{"grafana"}},
		{"/api/prometheus/grafanacloud-prom/api/v1/rules", []string{"grafana", "prometheus"}},
	}

	seen := map[string]struct{}{}
	var alerts []*models.Alert
	for _, ep := range endpoints {
		data, _, err := p.do(ctx, http.MethodGet, ep.path, nil, "list rules", nil)
		if err != nil {
			p.logger.Warn("could not get alerts", "api", ep.path, "error", err)
			continue
		}
		var groups ruleGroups
		if err := json.Unmarshal(data, &groups); err != nil {
			p.logger.Warn("could not decode alerts", "api", ep.path, "error", err)
			continue
		}
		alerts = append(alerts, extractRules(groups, ep.source, seen)...)
	}
	return alerts, nil
}

func extractRules(groups ruleGroups, source []string, seen map[string]struct{}) []*models.Alert {
	var out []*models.Alert
	for _, group := range groups.Data.Groups {
		for _, rule := range group.Rules {
			ruleID := rule.ID.String()
			if ruleID == "" {
				ruleID = strings.ToLower(strings.ReplaceAll(rule.Name, " ", "_"))
			}
			for _, instance := range rule.Alerts {
				if _, dup := seen[ruleID]; dup {
					continue
				}
				seen[ruleID] = struct{}{}

				extra := map[string]any{}
				description := ""
				for k, v := range instance.Annotations {
					key := strings.ToLower(k)
					if key == "description" {
						description = v
						continue
					}
					extra[key] = v
				}
				if description == "" {
					if summary, ok := extra["summary"].(string); ok {
						description = summary
					} else {
						description = rule.Name
					}
				}
				severity := models.SeverityInfo
				for k, v := range instance.Labels {
					key := strings.ToLower(k)
					if key == "severity" {
						severity = models.AlertSeverity(v)
						continue
					}
					extra[key] = v
				}

				state := instance.State
				if state == "" {
					state = rule.State
				}
				alert := &models.Alert{
					ID:           ruleID,
					Name:         rule.Name,
					Status:       ruleStatus(state),
					Severity:     severity,
					LastReceived: instance.ActiveAt,
					Description:  description,
					Source:       source,
					Extra:        extra,
				}
				alert.Finalize()
				out = append(out, alert)
			}
		}
	}
	return out
}

func ruleStatus(state string) models.AlertStatus {
	switch strings.ToLower(state) {
	case "firing", "alerting", "pending":
		return models.StatusFiring
	case "normal", "inactive":
		return models.StatusResolved
	default:
		return models.AlertStatus(state)
	}
}

// AlertSchema describes the provisioned alert rule DeployAlert accepts.
func AlertSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"title", "ruleGroup", "folderUID", "condition", "data"},
		"properties": map[string]any{
			"title":     map[string]any{"type": "string", "description": "Rule title"},
			"ruleGroup": map[string]any{"type": "string", "description": "Evaluation group"},
			"folderUID": map[string]any{"type": "string", "description": "Folder UID"},
			"condition": map[string]any{"type": "string", "description": "Condition ref ID"},
			"data":      map[string]any{"type": "array", "description": "Query and expression nodes"},
			"noDataState": map[string]any{
				"type": "string",
				"enum": []string{"NoData", "Alerting", "OK"},
			},
			"for": map[string]any{"type": "string", "description": "Pending period, e.g. 5m"},
		},
	}
}
