package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderConfig is the tenant-supplied configuration for one installed
// provider. Authentication keys are provider-specific and validated against
// the provider's declared auth fields at construction time.
type ProviderConfig struct {
	Name           string            `json:"name,omitempty"`
	Authentication map[string]string `json:"authentication"`
}

// AuthField describes one authentication parameter a provider accepts.
// The set of fields is static per provider type and drives both validation
// and configuration UIs.
type AuthField struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Sensitive   bool   `json:"sensitive"`
	Description string `json:"description,omitempty"`
	Hint        string `json:"hint,omitempty"`
	Default     string `json:"default,omitempty"`
}

// ProviderScope is one vendor permission a provider may hold. Mandatory
// scopes gate installation; MandatoryForWebhook scopes gate only webhook
// provisioning.
type ProviderScope struct {
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	Mandatory           bool   `json:"mandatory"`
	MandatoryForWebhook bool   `json:"mandatory_for_webhook"`
	DocumentationURL    string `json:"documentation_url,omitempty"`
	Alias               string `json:"alias,omitempty"`
}

// ScopeResult is the outcome of probing a single scope: confirmed, or a
// human-readable reason why not. It serializes as JSON true or a string.
type ScopeResult struct {
	Confirmed bool
	Reason    string
}

// ScopeOK is a confirmed scope result.
func ScopeOK() ScopeResult { return ScopeResult{Confirmed: true} }

// ScopeDenied is a failed scope result carrying the denial reason.
func ScopeDenied(reason string) ScopeResult { return ScopeResult{Reason: reason} }

func (r ScopeResult) MarshalJSON() ([]byte, error) {
	if r.Confirmed {
		return json.Marshal(true)
	}
	return json.Marshal(r.Reason)
}

func (r *ScopeResult) UnmarshalJSON(data []byte) error {
	var ok bool
	if err := json.Unmarshal(data, &ok); err == nil {
		*r = ScopeResult{Confirmed: ok}
		return nil
	}
	var reason string
	if err := json.Unmarshal(data, &reason); err != nil {
		return fmt.Errorf("scope result must be a bool or a string: %w", err)
	}
	*r = ScopeResult{Reason: reason}
	return nil
}

// ScopeResults maps scope name to probe outcome. ValidateScopes always
// returns an entry for every scope the provider declares.
type ScopeResults map[string]ScopeResult

// MissingMandatory returns the names of declared scopes that gate the
// requested path (install, or webhook install when forWebhook is set) and
// are not confirmed in r. An absent entry counts as unconfirmed.
func (r ScopeResults) MissingMandatory(scopes []ProviderScope, forWebhook bool) []string {
	var missing []string
	for _, s := range scopes {
		required := s.Mandatory || (forWebhook && s.MandatoryForWebhook)
		if !required {
			continue
		}
		if res, ok := r[s.Name]; !ok || !res.Confirmed {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// ProviderRecord is the persisted installation of a provider for a tenant.
// ConfigurationKey names the secret holding the ProviderConfig.
type ProviderRecord struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenant_id"`
	Name             string       `json:"name"`
	Type             string       `json:"type"`
	InstalledBy      string       `json:"installed_by"`
	InstallationTime time.Time    `json:"installation_time"`
	ConfigurationKey string       `json:"configuration_key"`
	ValidatedScopes  ScopeResults `json:"validatedScopes,omitempty"`
}

// ProviderCapabilities flags which optional operations a provider type
// implements.
type ProviderCapabilities struct {
	Alerts             bool `json:"alerts"`
	AlertConfiguration bool `json:"alert_configuration"`
	DeployAlert        bool `json:"deploy_alert"`
	Logs               bool `json:"logs"`
	Webhook            bool `json:"webhook"`
	OAuth2             bool `json:"oauth2"`
}

// ProviderDescriptor is the discovery view of a provider type, plus the
// installation details when it describes an installed provider.
type ProviderDescriptor struct {
	Type               string               `json:"type"`
	DisplayName        string               `json:"display_name"`
	Description        string               `json:"description,omitempty"`
	AuthFields         []AuthField          `json:"auth_fields,omitempty"`
	Scopes             []ProviderScope      `json:"scopes,omitempty"`
	Capabilities       ProviderCapabilities `json:"capabilities"`
	OAuth2URL          string               `json:"oauth2_url,omitempty"`
	WebhookDescription string               `json:"webhook_description,omitempty"`
	WebhookTemplate    string               `json:"webhook_template,omitempty"`

	// Installed-provider details, empty on catalog entries.
	ID               string         `json:"id,omitempty"`
	Installed        bool           `json:"installed,omitempty"`
	InstalledBy      string         `json:"installed_by,omitempty"`
	InstallationTime *time.Time     `json:"installation_time,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
	ValidatedScopes  ScopeResults   `json:"validatedScopes,omitempty"`
}
