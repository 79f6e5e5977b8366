package datadog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/signalbridge/signalbridge/pkg/providers"
)

// webhookPayloadTemplate is the body Datadog renders on every delivery.
// The $-placeholders are substituted by Datadog, not by us.
const webhookPayloadTemplate = `{
  "body": "$EVENT_MSG",
  "last_updated": "$LAST_UPDATED",
  "event_type": "$EVENT_TYPE",
  "title": "$EVENT_TITLE",
  "severity": "$ALERT_PRIORITY",
  "alert_type": "$ALERT_TYPE",
  "alert_query": "$ALERT_QUERY",
  "alert_transition": "$ALERT_TRANSITION",
  "date": "$DATE",
  "org": {"id": "$ORG_ID", "name": "$ORG_NAME"},
  "url": "$LINK",
  "tags": "$TAGS",
  "id": "$ID"
}`

const webhooksBasePath = "/api/v1/integration/webhooks/configuration/webhooks"

// WebhookName is the deterministic per-tenant integration name.
func WebhookName(tenantID string) string {
	return fmt.Sprintf("%s-%s", webhookIntegrationPrefix, tenantID)
}

type webhookIntegration struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SetupWebhook creates or updates the tenant's webhook integration and,
// when requested, retrofits every monitor to notify it. Repeat calls with
// an unchanged callback URL perform no vendor mutation.
func (p *Provider) SetupWebhook(ctx context.Context, req providers.WebhookRequest) error {
	name := WebhookName(req.TenantID)
	p.logger.Info("creating or updating webhook", "webhook", name)

	customHeaders, err := json.Marshal(map[string]string{
		"Content-Type": "application/json",
		"X-API-KEY":    req.APIKey,
	})
	if err != nil {
		return fmt.Errorf("encode webhook headers: %w", err)
	}

	data, err := p.do(ctx, http.MethodGet, webhooksBasePath+"/"+name, nil, "get webhook")
	switch {
	case err == nil:
		var existing webhookIntegration
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("decode webhook: %w", err)
		}
		if existing.URL != req.CallbackURL {
			// Re-assert the full desired shape, not just the URL, so a
			// drifted payload template or header set is repaired too.
			body := map[string]any{
				"url":            req.CallbackURL,
				"custom_headers": string(customHeaders),
				"encode_as":      "json",
				"payload":        webhookPayloadTemplate,
			}
			if _, err := p.do(ctx, http.MethodPut, webhooksBasePath+"/"+name, body, "update webhook"); err != nil {
				return err
			}
			p.logger.Info("webhook updated", "webhook", name)
		}
	case isWebhookMissing(err):
		body := map[string]any{
			"name":           name,
			"url":            req.CallbackURL,
			"custom_headers": string(customHeaders),
			"encode_as":      "json",
			"payload":        webhookPayloadTemplate,
		}
		if _, err := p.do(ctx, http.MethodPost, webhooksBasePath, body, "create webhook"); err != nil {
			var vendorErr *providers.VendorError
			if errors.As(err, &vendorErr) && strings.Contains(vendorErr.Body, "already exists") {
				p.logger.Info("webhook already exists", "webhook", name)
			} else {
				return err
			}
		} else {
			p.logger.Info("webhook created", "webhook", name)
		}
	default:
		return err
	}

	if req.SetupAlerts {
		p.retrofitMonitors(ctx, name)
	}
	return nil
}

// isWebhookMissing treats 404 and 403 as "not there": Datadog answers 403
// on lookups of integrations the key cannot see.
func isWebhookMissing(err error) bool {
	var vendorErr *providers.VendorError
	if !errors.As(err, &vendorErr) {
		return false
	}
	return vendorErr.StatusCode == http.StatusNotFound || vendorErr.StatusCode == http.StatusForbidden
}

// retrofitMonitors appends the @webhook mention to every monitor that does
// not carry it yet. Per-monitor failures are logged and skipped.
func (p *Provider) retrofitMonitors(ctx context.Context, webhookName string) {
	p.logger.Info("updating monitors", "webhook", webhookName)
	monitors, _, err := p.listMonitors(ctx)
	if err != nil {
		p.logger.Error("could not list monitors for retrofit", "error", err)
		return
	}

	mention := "@webhook-" + webhookName
	for _, m := range monitors {
		if strings.Contains(m.Message, mention) {
			continue
		}
		body := map[string]any{"message": m.Message + " " + mention}
		if _, err := p.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/monitor/%d", m.ID), body, "update monitor"); err != nil {
			p.logger.Warn("could not update monitor", "monitor_id", m.ID, "error", err)
			continue
		}
		p.logger.Info("monitor updated", "monitor_id", m.ID)
	}
	p.logger.Info("monitors updated")
}
