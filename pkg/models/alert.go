package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertStatus is the lifecycle state of an alert as reported by the source.
type AlertStatus string

const (
	StatusFiring       AlertStatus = "firing"
	StatusResolved     AlertStatus = "resolved"
	StatusAcknowledged AlertStatus = "acknowledged"
)

// AlertSeverity is the normalized severity scale shared by all providers.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
	SeverityLow      AlertSeverity = "low"
	SeverityInfo     AlertSeverity = "info"
)

// DefaultEnvironment is used when the source does not report one.
const DefaultEnvironment = "undefined"

// Alert is the canonical alert shape every provider normalizes into.
// Vendor fields that do not map onto a core field are preserved in Extra
// and serialized inline, so consumers see one flat JSON object.
type Alert struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          AlertStatus   `json:"status"`
	Severity        AlertSeverity `json:"severity"`
	LastReceived    time.Time     `json:"lastReceived"`
	Environment     string        `json:"environment"`
	Service         string        `json:"service,omitempty"`
	Source          []string      `json:"source,omitempty"`
	Message         string        `json:"message,omitempty"`
	Description     string        `json:"description,omitempty"`
	FatigueMeter    *int          `json:"fatigueMeter,omitempty"`
	Pushed          bool          `json:"pushed"`
	EventID         string        `json:"event_id,omitempty"`
	URL             string        `json:"url,omitempty"`
	Fingerprint     string        `json:"fingerprint"`
	IsDuplicate     bool          `json:"isDuplicate,omitempty"`
	DuplicateReason string        `json:"duplicateReason,omitempty"`

	// Extra holds source fields with no core equivalent.
	Extra map[string]any `json:"-"`
}

// coreAlertKeys are the JSON keys owned by the typed fields above. Keys in
// Extra colliding with these are dropped on marshal so the typed value wins.
var coreAlertKeys = map[string]struct{}{
	"id": {}, "name": {}, "status": {}, "severity": {}, "lastReceived": {},
	"environment": {}, "service": {}, "source": {}, "message": {},
	"description": {}, "fatigueMeter": {}, "pushed": {}, "event_id": {},
	"url": {}, "fingerprint": {}, "isDuplicate": {}, "duplicateReason": {},
}

// Finalize applies the defaulting rules: environment falls back to
// "undefined" and the fingerprint falls back to the alert name.
func (a *Alert) Finalize() {
	if a.Environment == "" {
		a.Environment = DefaultEnvironment
	}
	if a.Fingerprint == "" {
		a.Fingerprint = a.Name
	}
}

// MarshalJSON flattens the typed fields and Extra into a single object.
func (a Alert) MarshalJSON() ([]byte, error) {
	type plain Alert
	core, err := json.Marshal(plain(a))
	if err != nil {
		return nil, err
	}
	if len(a.Extra) == 0 {
		return core, nil
	}

	merged := make(map[string]json.RawMessage, len(a.Extra)+16)
	if err := json.Unmarshal(core, &merged); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, owned := coreAlertKeys[k]; owned {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal extra field %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits a flat object back into typed fields and Extra.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	var core plain
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	var extra map[string]any
	for k, raw := range all {
		if _, owned := coreAlertKeys[k]; owned {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("unmarshal extra field %q: %w", k, err)
		}
		extra[k] = v
	}

	*a = Alert(core)
	a.Extra = extra
	return nil
}
