package datadog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// eventNamePattern strips the "[Triggered on ...]" prefix Datadog puts in
// front of the monitor name.
var eventNamePattern = regexp.MustCompile(`.*\] (.*)`)

// FormatAlert normalizes a webhook delivery rendered from the payload
// template into a canonical alert. It is static: no tenant configuration
// is required.
func FormatAlert(event map[string]any) (*models.Alert, error) {
	name, _ := event["title"].(string)
	if m := eventNamePattern.FindStringSubmatch(name); m != nil {
		name = m[1]
	}

	lastUpdated, err := epochMillis(event["last_updated"])
	if err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}

	extra := map[string]any{}
	if tags, ok := event["tags"].(string); ok && tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag == "monitor" {
				continue
			}
			k, v, ok := strings.Cut(tag, ":")
			if !ok {
				continue
			}
			extra[k] = v
		}
	}

	id, _ := event["id"].(string)
	status, _ := event["alert_transition"].(string)
	message, _ := event["body"].(string)
	severity, _ := event["severity"].(string)
	url, _ := event["url"].(string)

	alert := &models.Alert{
		ID:           id,
		Name:         name,
		Status:       transitionStatus(status),
		Severity:     priorityToSeverity(severity),
		LastReceived: lastUpdated,
		Message:      message,
		Description:  name,
		Source:       []string{ProviderType},
		URL:          url,
		Extra:        extra,
	}
	alert.Finalize()
	return alert, nil
}

func transitionStatus(transition string) models.AlertStatus {
	switch strings.ToLower(transition) {
	case "triggered", "re-triggered", "warn":
		return models.StatusFiring
	case "recovered":
		return models.StatusResolved
	default:
		return models.AlertStatus(transition)
	}
}

func epochMillis(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		millis, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(millis).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp %v", v)
	}
}

// AlertSchema describes the monitor definition DeployAlert accepts.
func AlertSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"required": []string{"name", "type", "query", "message"},
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "description": "Monitor name"},
			"type":     map[string]any{"type": "string", "description": "Monitor type, e.g. metric alert"},
			"query":    map[string]any{"type": "string", "description": "Monitor query"},
			"message":  map[string]any{"type": "string", "description": "Notification message"},
			"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"priority": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
			"options": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"thresholds":        map[string]any{"type": "object"},
					"notify_no_data":    map[string]any{"type": "boolean"},
					"renotify_interval": map[string]any{"type": "integer"},
				},
			},
		},
	}
}
