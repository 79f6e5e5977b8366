package cloudwatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// confirmClient fetches SNS SubscribeURLs. Swapped out in tests.
var confirmClient = &http.Client{Timeout: 30 * time.Second}

// FormatAlert normalizes an SNS envelope. A SubscriptionConfirmation is
// confirmed by fetching its SubscribeURL and yields no alert. A
// Notification has its Message parsed as a CloudWatch alarm state change;
// the alert ID is the SHA-256 of the raw message, the alarm carries no
// unique ID of its own.
func FormatAlert(event map[string]any) (*models.Alert, error) {
	if event["Type"] == "SubscriptionConfirmation" {
		subscribeURL, _ := event["SubscribeURL"].(string)
		if subscribeURL == "" {
			return nil, fmt.Errorf("subscription confirmation without SubscribeURL")
		}
		resp, err := confirmClient.Get(subscribeURL)
		if err != nil {
			return nil, fmt.Errorf("confirm subscription: %w", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("confirm subscription: status %d", resp.StatusCode)
		}
		return nil, nil
	}

	message, _ := event["Message"].(string)
	if message == "" {
		return nil, fmt.Errorf("event has no Message")
	}

	var alarm struct {
		AlarmName        string `json:"AlarmName"`
		AlarmDescription string `json:"AlarmDescription"`
		NewStateValue    string `json:"NewStateValue"`
		NewStateReason   string `json:"NewStateReason"`
		StateChangeTime  string `json:"StateChangeTime"`
		Region           string `json:"Region"`
	}
	if err := json.Unmarshal([]byte(message), &alarm); err != nil {
		return nil, fmt.Errorf("parse alarm message: %w", err)
	}

	var extra map[string]any
	if err := json.Unmarshal([]byte(message), &extra); err != nil {
		return nil, fmt.Errorf("parse alarm message: %w", err)
	}

	stateChange, err := parseStateChangeTime(alarm.StateChangeTime)
	if err != nil {
		return nil, fmt.Errorf("parse StateChangeTime: %w", err)
	}

	sum := sha256.Sum256([]byte(message))
	alert := &models.Alert{
		ID:           hex.EncodeToString(sum[:]),
		Name:         alarm.AlarmName,
		Status:       alarmStatus(alarm.NewStateValue),
		Severity:     models.SeverityInfo,
		LastReceived: stateChange,
		Message:      alarm.NewStateReason,
		Description:  alarm.AlarmDescription,
		Source:       []string{ProviderType},
		Extra:        extra,
	}
	alert.Finalize()
	return alert, nil
}

// CloudWatch emits +0000 offsets without a colon.
func parseStateChangeTime(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time %q", value)
}

func alarmStatus(state string) models.AlertStatus {
	switch state {
	case "ALARM":
		return models.StatusFiring
	case "OK":
		return models.StatusResolved
	default:
		return models.AlertStatus(state)
	}
}

// AlertSchema describes the alarm state-change message shape.
func AlertSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"AlarmName", "NewStateValue", "StateChangeTime"},
		"properties": map[string]any{
			"AlarmName":        map[string]any{"type": "string"},
			"AlarmDescription": map[string]any{"type": "string"},
			"NewStateValue":    map[string]any{"type": "string", "enum": []string{"OK", "ALARM", "INSUFFICIENT_DATA"}},
			"NewStateReason":   map[string]any{"type": "string"},
			"StateChangeTime":  map[string]any{"type": "string"},
			"Region":           map[string]any{"type": "string"},
			"Trigger":          map[string]any{"type": "object"},
		},
	}
}
