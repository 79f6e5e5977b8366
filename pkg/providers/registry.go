package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// FormatAlertFunc turns a raw push event into canonical alerts without any
// tenant configuration. Nil when the provider does not support push.
type FormatAlertFunc func(event map[string]any) (*models.Alert, error)

// OAuth2Func exchanges OAuth2 callback parameters for authentication
// configuration. Nil when the provider does not support OAuth2 install.
type OAuth2Func func(params map[string]string) (map[string]string, error)

// Definition is the static registration record for one provider type.
type Definition struct {
	Type        string
	DisplayName string
	Description string
	AuthFields  []models.AuthField
	Scopes      []models.ProviderScope

	// New constructs a configured instance. It validates cfg against
	// AuthFields and the provider's own rules; on failure nothing is
	// constructed and a ConfigValidationError is returned.
	New func(id string, cfg models.ProviderConfig) (Provider, error)

	FormatAlert FormatAlertFunc
	OAuth2      OAuth2Func
	OAuth2URL   string

	AlertSchema func() map[string]any

	WebhookDescription string
	WebhookTemplate    string

	// Capabilities are declared at registration, not probed: constructing
	// an instance requires tenant credentials the catalog does not have.
	// The OAuth2 flag is derived from the OAuth2 function field.
	Capabilities models.ProviderCapabilities
}

func (d Definition) capabilities() models.ProviderCapabilities {
	caps := d.Capabilities
	caps.OAuth2 = d.OAuth2 != nil
	return caps
}

// Descriptor builds the catalog view of this provider type.
func (d Definition) Descriptor() models.ProviderDescriptor {
	return models.ProviderDescriptor{
		Type:               d.Type,
		DisplayName:        d.DisplayName,
		Description:        d.Description,
		AuthFields:         d.AuthFields,
		Scopes:             d.Scopes,
		Capabilities:       d.capabilities(),
		OAuth2URL:          d.OAuth2URL,
		WebhookDescription: d.WebhookDescription,
		WebhookTemplate:    d.WebhookTemplate,
	}
}

// Registry resolves provider type names to definitions. Registration
// happens at startup; lookups are concurrent.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Registering a duplicate or incomplete type
// panics: both are programmer errors caught at startup.
func (r *Registry) Register(def Definition) {
	if def.Type == "" || def.New == nil {
		panic(fmt.Sprintf("providers: incomplete definition for %q", def.Type))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.Type]; dup {
		panic(fmt.Sprintf("providers: duplicate registration of %q", def.Type))
	}
	r.defs[def.Type] = def
}

// Get returns the definition for a provider type, or a NotFoundError.
func (r *Registry) Get(providerType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[providerType]
	if !ok {
		return Definition{}, &NotFoundError{Type: providerType}
	}
	return def, nil
}

// NewProvider resolves the type and constructs a configured instance.
func (r *Registry) NewProvider(providerType, id string, cfg models.ProviderConfig) (Provider, error) {
	def, err := r.Get(providerType)
	if err != nil {
		return nil, err
	}
	return def.New(id, cfg)
}

// Definitions returns all registered definitions sorted by type.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// Descriptors returns the catalog view of every registered type.
func (r *Registry) Descriptors() []models.ProviderDescriptor {
	defs := r.Definitions()
	descriptors := make([]models.ProviderDescriptor, 0, len(defs))
	for _, def := range defs {
		descriptors = append(descriptors, def.Descriptor())
	}
	return descriptors
}

// ValidateAuth checks cfg.Authentication against the declared auth fields:
// required fields must be present and non-empty, defaults are applied in a
// copy that is returned for the constructor to use.
func ValidateAuth(providerType string, fields []models.AuthField, cfg models.ProviderConfig) (map[string]string, error) {
	auth := make(map[string]string, len(cfg.Authentication))
	for k, v := range cfg.Authentication {
		auth[k] = v
	}
	for _, f := range fields {
		if auth[f.Name] == "" {
			if f.Required {
				return nil, &ConfigValidationError{
					Provider: providerType,
					Field:    f.Name,
					Message:  "required field is missing",
				}
			}
			if f.Default != "" {
				auth[f.Name] = f.Default
			}
		}
	}
	return auth, nil
}
