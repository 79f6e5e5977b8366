package grafana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
)

// ContactPointName is the deterministic per-tenant contact point name.
func ContactPointName(tenantID string) string {
	return fmt.Sprintf("%s-%s", webhookContactPointPrefix, tenantID)
}

type contactPoint struct {
	UID      string         `json:"uid,omitempty"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Settings map[string]any `json:"settings"`
}

// SetupWebhook creates or updates the tenant's webhook contact point and,
// when requested, appends a route for it to the notification policy tree.
// An already-routed policy tree is left untouched.
func (p *Provider) SetupWebhook(ctx context.Context, req providers.WebhookRequest) error {
	p.logger.Info("setting up webhook")
	name := ContactPointName(req.TenantID)

	data, _, err := p.do(ctx, http.MethodGet, provisioningPath+"/contact-points", nil, "list contact points", nil)
	if err != nil {
		return err
	}
	var points []contactPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return fmt.Errorf("decode contact points: %w", err)
	}

	var existing *contactPoint
	for i := range points {
		if points[i].Name == name || points[i].UID == name {
			existing = &points[i]
			break
		}
	}

	if existing != nil {
		if existing.Settings == nil {
			existing.Settings = map[string]any{}
		}
		if existing.Settings["url"] != req.CallbackURL {
			existing.Settings["url"] = req.CallbackURL
			existing.Settings["authorization_scheme"] = "digest"
			existing.Settings["authorization_credentials"] = req.APIKey
			if _, _, err := p.do(ctx, http.MethodPut, provisioningPath+"/contact-points/"+existing.UID, existing, "update contact point", nil); err != nil {
				return err
			}
			p.logger.Info("updated contact point", "uid", existing.UID)
		}
	} else {
		point := contactPoint{
			Name: name,
			Type: "webhook",
			Settings: map[string]any{
				"httpMethod":                http.MethodPost,
				"url":                       req.CallbackURL,
				"authorization_scheme":      "digest",
				"authorization_credentials": req.APIKey,
			},
		}
		if _, _, err := p.do(ctx, http.MethodPost, provisioningPath+"/contact-points", point, "create contact point", nil); err != nil {
			return err
		}
		p.logger.Info("created contact point", "name", name)
	}

	if req.SetupAlerts {
		if err := p.routePolicies(ctx, name); err != nil {
			return err
		}
	}
	p.logger.Info("webhook set up")
	return nil
}

// routePolicies appends a route to the webhook receiver, preserving the
// default receiver with an explicit continue-route first.
func (p *Provider) routePolicies(ctx context.Context, receiver string) error {
	data, _, err := p.do(ctx, http.MethodGet, provisioningPath+"/policies", nil, "get policies", nil)
	if err != nil {
		return err
	}
	var policies map[string]any
	if err := json.Unmarshal(data, &policies); err != nil {
		return fmt.Errorf("decode policies: %w", err)
	}

	routes, _ := policies["routes"].([]any)
	for _, r := range routes {
		route, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if route["receiver"] == receiver {
			p.logger.Info("policies already route to webhook")
			return nil
		}
	}

	if defaultReceiver, ok := policies["receiver"].(string); ok && defaultReceiver != "" {
		defaultRoute := map[string]any{"receiver": defaultReceiver, "continue": true}
		hasDefault := false
		for _, r := range routes {
			route, ok := r.(map[string]any)
			if ok && route["receiver"] == defaultReceiver && route["continue"] == true {
				hasDefault = true
				break
			}
		}
		if !hasDefault {
			routes = append(routes, defaultRoute)
		}
	}
	routes = append(routes, map[string]any{"receiver": receiver, "continue": true})
	policies["routes"] = routes

	headers := map[string]string{"X-Disable-Provenance": "true"}
	if _, _, err := p.do(ctx, http.MethodPut, provisioningPath+"/policies", policies, "update policies", headers); err != nil {
		return err
	}
	p.logger.Info("updated policies to route alerts to webhook")
	return nil
}

// FormatAlert normalizes a Grafana alerting webhook delivery. The payload
// carries a batch; the first alert determines severity and labels.
func FormatAlert(event map[string]any) (*models.Alert, error) {
	alertsRaw, _ := event["alerts"].([]any)
	first := map[string]any{}
	if len(alertsRaw) > 0 {
		if m, ok := alertsRaw[0].(map[string]any); ok {
			first = m
		}
	}

	id, _ := first["fingerprint"].(string)
	name, _ := event["title"].(string)
	status, _ := event["status"].(string)

	annotations, _ := first["annotations"].(map[string]any)
	description, _ := annotations["summary"].(string)

	extra := map[string]any{}
	severity := models.SeverityInfo
	if labels, ok := first["labels"].(map[string]any); ok {
		for k, v := range labels {
			if k == "severity" {
				if s, ok := v.(string); ok {
					severity = models.AlertSeverity(s)
				}
				continue
			}
			extra[k] = v
		}
	}

	alert := &models.Alert{
		ID:           id,
		Name:         name,
		Status:       ruleStatus(status),
		Severity:     severity,
		LastReceived: time.Now().UTC(),
		Description:  description,
		Source:       []string{ProviderType},
		Fingerprint:  id,
		Extra:        extra,
	}
	alert.Finalize()
	return alert, nil
}
