// Package services orchestrates provider installation, validation, and
// operation on behalf of the HTTP layer.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalbridge/signalbridge/pkg/metrics"
	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
	"github.com/signalbridge/signalbridge/pkg/secrets"
	"github.com/signalbridge/signalbridge/pkg/store"
)

// ProviderService executes the provider lifecycle: install, update,
// uninstall, scope revalidation, webhook provisioning, and the
// pass-through vendor operations.
type ProviderService struct {
	registry *providers.Registry
	store    store.Store
	secrets  secrets.Manager
	// publicURL is the externally reachable base URL push callbacks are
	// derived from.
	publicURL string
	// scopeTimeout bounds a full ValidateScopes batch; zero means no bound.
	scopeTimeout time.Duration
	logger       *slog.Logger
}

// SetScopeTimeout bounds every scope-validation batch the service runs.
func (s *ProviderService) SetScopeTimeout(d time.Duration) {
	s.scopeTimeout = d
}

func (s *ProviderService) scopeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.scopeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.scopeTimeout)
}

func NewProviderService(registry *providers.Registry, recordStore store.Store, secretManager secrets.Manager, publicURL string) *ProviderService {
	return &ProviderService{
		registry:  registry,
		store:     recordStore,
		secrets:   secretManager,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		logger:    slog.Default().With("component", "provider_service"),
	}
}

// CallbackURL is where the vendor pushes events for one installed
// provider.
func (s *ProviderService) CallbackURL(providerType, providerID string) string {
	return fmt.Sprintf("%s/api/v1/ingest/%s?provider_id=%s", s.publicURL, providerType, providerID)
}

// InstallResult is returned from Install and InstallOAuth2.
type InstallResult struct {
	Type            string                `json:"type"`
	ID              string                `json:"id"`
	Details         models.ProviderConfig `json:"details"`
	ValidatedScopes models.ScopeResults   `json:"validatedScopes,omitempty"`
}

// Catalog lists every registered provider type.
func (s *ProviderService) Catalog() []models.ProviderDescriptor {
	return s.registry.Descriptors()
}

// ListInstalled returns the tenant's installed providers as descriptors.
// The stored configuration is attached best-effort: a provider whose
// secret cannot be read is still listed.
func (s *ProviderService) ListInstalled(ctx context.Context, tenantID string) ([]models.ProviderDescriptor, error) {
	records, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	installed := make([]models.ProviderDescriptor, 0, len(records))
	for _, record := range records {
		def, err := s.registry.Get(record.Type)
		if err != nil {
			s.logger.Warn("installed provider has unknown type", "type", record.Type, "id", record.ID)
			continue
		}
		descriptor := def.Descriptor()
		descriptor.ID = record.ID
		descriptor.Installed = true
		descriptor.InstalledBy = record.InstalledBy
		t := record.InstallationTime
		descriptor.InstallationTime = &t
		descriptor.ValidatedScopes = record.ValidatedScopes

		var cfg models.ProviderConfig
		if err := secrets.ReadJSON(ctx, s.secrets, record.ConfigurationKey, &cfg); err != nil {
			s.logger.Warn("could not read provider secret", "id", record.ID, "error", err)
		} else {
			descriptor.Details = map[string]any{"authentication": redact(def, cfg.Authentication), "name": cfg.Name}
		}
		installed = append(installed, descriptor)
	}
	return installed, nil
}

// redact blanks sensitive auth values for read surfaces.
func redact(def providers.Definition, auth map[string]string) map[string]string {
	sensitive := map[string]bool{}
	for _, f := range def.AuthFields {
		sensitive[f.Name] = f.Sensitive
	}
	out := make(map[string]string, len(auth))
	for k, v := range auth {
		if sensitive[k] {
			out[k] = "*****"
			continue
		}
		out[k] = v
	}
	return out
}

// Install validates the configuration and mandatory scopes, stores the
// secret, and persists the record. A mandatory scope that is not
// confirmed aborts the install with a PreconditionError carrying the full
// scope map.
func (s *ProviderService) Install(ctx context.Context, tenantID, installedBy, providerType, name string, cfg models.ProviderConfig) (*InstallResult, error) {
	def, err := s.registry.Get(providerType)
	if err != nil {
		return nil, err
	}

	providerID := strings.ReplaceAll(uuid.New().String(), "-", "")
	s.logger.Info("installing provider",
		"provider_id", providerID, "provider_type", providerType, "tenant_id", tenantID)

	if name != "" {
		cfg.Name = name
	}
	instance, err := def.New(providerID, cfg)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := s.scopeCtx(ctx)
	results := instance.ValidateScopes(checkCtx)
	cancel()
	if err := providers.EnsureMandatory(def.Scopes, results); err != nil {
		return nil, err
	}

	secretName := secrets.Name(tenantID, providerType, providerID)
	if err := secrets.WriteJSON(ctx, s.secrets, secretName, cfg); err != nil {
		return nil, fmt.Errorf("store provider secret: %w", err)
	}

	record := &models.ProviderRecord{
		ID:               providerID,
		TenantID:         tenantID,
		Name:             cfg.Name,
		Type:             providerType,
		InstalledBy:      installedBy,
		InstallationTime: time.Now().UTC(),
		ConfigurationKey: secretName,
		ValidatedScopes:  results,
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.discardSecret(ctx, secretName)
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("persist provider record: %w", err)
	}

	s.logger.Info("provider installed", "provider_id", providerID, "tenant_id", tenantID)
	return &InstallResult{
		Type:            providerType,
		ID:              providerID,
		Details:         cfg,
		ValidatedScopes: results,
	}, nil
}

// InstallOAuth2 exchanges the OAuth2 callback payload for credentials and
// installs with them. Scope gating is skipped: the vendor consent screen
// already bounded what the token can do.
func (s *ProviderService) InstallOAuth2(ctx context.Context, tenantID, installedBy, providerType string, params map[string]string) (*InstallResult, error) {
	def, err := s.registry.Get(providerType)
	if err != nil {
		return nil, err
	}
	if def.OAuth2 == nil {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not support oauth2 installation", providerType))
	}

	auth, err := def.OAuth2(params)
	if err != nil {
		return nil, err
	}

	providerID := strings.ReplaceAll(uuid.New().String(), "-", "")
	cfg := models.ProviderConfig{
		Name:           providerType + "-oauth2",
		Authentication: auth,
	}
	if _, err := def.New(providerID, cfg); err != nil {
		return nil, err
	}

	secretName := secrets.Name(tenantID, providerType, providerID)
	if err := secrets.WriteJSON(ctx, s.secrets, secretName, cfg); err != nil {
		return nil, fmt.Errorf("store provider secret: %w", err)
	}
	record := &models.ProviderRecord{
		ID:               providerID,
		TenantID:         tenantID,
		Name:             cfg.Name,
		Type:             providerType,
		InstalledBy:      installedBy,
		InstallationTime: time.Now().UTC(),
		ConfigurationKey: secretName,
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.discardSecret(ctx, secretName)
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("persist provider record: %w", err)
	}

	return &InstallResult{Type: providerType, ID: providerID, Details: cfg}, nil
}

// Update revalidates the new configuration and scopes, rewrites the
// secret, and updates the record.
func (s *ProviderService) Update(ctx context.Context, tenantID, updatedBy, providerType, providerID string, cfg models.ProviderConfig) (models.ScopeResults, error) {
	record, def, err := s.lookup(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}

	instance, err := def.New(providerID, cfg)
	if err != nil {
		return nil, err
	}
	checkCtx, cancel := s.scopeCtx(ctx)
	results := instance.ValidateScopes(checkCtx)
	cancel()
	if err := providers.EnsureMandatory(def.Scopes, results); err != nil {
		return nil, err
	}

	if err := secrets.WriteJSON(ctx, s.secrets, record.ConfigurationKey, cfg); err != nil {
		return nil, fmt.Errorf("store provider secret: %w", err)
	}
	record.InstalledBy = updatedBy
	record.ValidatedScopes = results
	if cfg.Name != "" {
		record.Name = cfg.Name
	}
	if err := s.store.Update(ctx, record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update provider record: %w", err)
	}
	return results, nil
}

// discardSecret removes a secret written for a record that was never
// persisted, so a failed install leaves no orphan behind. Best-effort.
func (s *ProviderService) discardSecret(ctx context.Context, secretName string) {
	if err := s.secrets.DeleteSecret(ctx, secretName); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
		s.logger.Error("could not discard provider secret", "secret", secretName, "error", err)
	}
}

// Uninstall deletes the secret best-effort and the record always. A
// failed secret deletion is logged and counted, never fatal.
func (s *ProviderService) Uninstall(ctx context.Context, tenantID, providerType, providerID string) error {
	record, _, err := s.lookup(ctx, tenantID, providerType, providerID)
	if err != nil {
		return err
	}

	if err := s.secrets.DeleteSecret(ctx, record.ConfigurationKey); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
		metrics.SecretDeleteFailures.WithLabelValues(record.Type).Inc()
		s.logger.Error("could not delete provider secret",
			"provider_id", providerID, "secret", record.ConfigurationKey, "error", err)
	}

	if err := s.store.Delete(ctx, tenantID, providerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete provider record: %w", err)
	}
	s.logger.Info("provider uninstalled", "provider_id", providerID, "tenant_id", tenantID)
	return nil
}

// ValidateScopes re-runs the scope probes for an installed provider and
// persists the results when they changed.
func (s *ProviderService) ValidateScopes(ctx context.Context, tenantID, providerType, providerID string) (models.ScopeResults, error) {
	record, _, err := s.lookup(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}
	instance, err := s.instantiate(ctx, record)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := s.scopeCtx(ctx)
	results := instance.ValidateScopes(checkCtx)
	cancel()
	if !scopeResultsEqual(results, record.ValidatedScopes) {
		record.ValidatedScopes = results
		if err := s.store.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("persist validated scopes: %w", err)
		}
	}
	return results, nil
}

func scopeResultsEqual(a, b models.ScopeResults) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Test constructs a provider from unsaved configuration and probes its
// scopes, without persisting anything.
func (s *ProviderService) Test(ctx context.Context, providerType string, cfg models.ProviderConfig) (models.ScopeResults, error) {
	def, err := s.registry.Get(providerType)
	if err != nil {
		return nil, err
	}
	instance, err := def.New("test", cfg)
	if err != nil {
		return nil, err
	}
	checkCtx, cancel := s.scopeCtx(ctx)
	defer cancel()
	return instance.ValidateScopes(checkCtx), nil
}

// InstallWebhook provisions push delivery for an installed provider. The
// webhook-mandatory scopes are gated on the last validated results.
func (s *ProviderService) InstallWebhook(ctx context.Context, tenantID, providerType, providerID string) error {
	record, def, err := s.lookup(ctx, tenantID, providerType, providerID)
	if err != nil {
		return err
	}
	if err := providers.EnsureMandatoryForWebhook(def.Scopes, record.ValidatedScopes); err != nil {
		return err
	}

	instance, err := s.instantiate(ctx, record)
	if err != nil {
		return err
	}
	installer, ok := instance.(providers.WebhookInstaller)
	if !ok {
		return NewValidationError("provider_type", fmt.Sprintf("%s does not support webhook installation", providerType))
	}

	apiKey, err := s.webhookAPIKey(ctx, tenantID)
	if err != nil {
		return err
	}
	return installer.SetupWebhook(ctx, providers.WebhookRequest{
		TenantID:    tenantID,
		CallbackURL: s.CallbackURL(providerType, providerID),
		APIKey:      apiKey,
		SetupAlerts: true,
	})
}

// WebhookSettings describes the manual setup for a provider type.
type WebhookSettings struct {
	Description string `json:"webhookDescription"`
	Template    string `json:"webhookTemplate"`
	CallbackURL string `json:"callbackUrl"`
	APIKey      string `json:"apiKey"`
}

// GetWebhookSettings returns what a tenant needs to wire push delivery by
// hand.
func (s *ProviderService) GetWebhookSettings(ctx context.Context, tenantID, providerType string) (*WebhookSettings, error) {
	def, err := s.registry.Get(providerType)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.webhookAPIKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &WebhookSettings{
		Description: def.WebhookDescription,
		Template:    def.WebhookTemplate,
		CallbackURL: fmt.Sprintf("%s/api/v1/ingest/%s", s.publicURL, providerType),
		APIKey:      apiKey,
	}, nil
}

// webhookAPIKey returns the tenant's webhook ingestion key, creating it
// on first use.
func (s *ProviderService) webhookAPIKey(ctx context.Context, tenantID string) (string, error) {
	name := tenantID + "_webhook_api_key"
	data, err := s.secrets.ReadSecret(ctx, name)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, secrets.ErrSecretNotFound) {
		return "", fmt.Errorf("read webhook api key: %w", err)
	}

	key := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := s.secrets.WriteSecret(ctx, name, []byte(key)); err != nil {
		return "", fmt.Errorf("store webhook api key: %w", err)
	}
	// Reverse mapping lets the ingestion endpoint resolve the tenant from
	// the key the vendor presents.
	if err := s.secrets.WriteSecret(ctx, "webhook_key_"+key, []byte(tenantID)); err != nil {
		return "", fmt.Errorf("store webhook api key mapping: %w", err)
	}
	return key, nil
}

// ResolveWebhookKey returns the tenant a webhook API key belongs to.
// Unknown keys map to ErrNotFound.
func (s *ProviderService) ResolveWebhookKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	tenantID, err := s.secrets.ReadSecret(ctx, "webhook_key_"+key)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve webhook api key: %w", err)
	}
	return string(tenantID), nil
}

// GetAlerts pulls and normalizes current alerts from the vendor.
func (s *ProviderService) GetAlerts(ctx context.Context, tenantID, providerType, providerID string) ([]*models.Alert, error) {
	instance, err := s.installedInstance(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}
	fetcher, ok := instance.(providers.AlertFetcher)
	if !ok {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not support alert retrieval", providerType))
	}
	return fetcher.GetAlerts(ctx)
}

// GetAlertsConfiguration lists the vendor-side alert definitions.
func (s *ProviderService) GetAlertsConfiguration(ctx context.Context, tenantID, providerType, providerID, alertID string) ([]json.RawMessage, error) {
	instance, err := s.installedInstance(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}
	reader, ok := instance.(providers.ConfigurationReader)
	if !ok {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not support alert configuration", providerType))
	}
	return reader.GetAlertsConfiguration(ctx, alertID)
}

// DeployAlert pushes an alert definition to the vendor.
func (s *ProviderService) DeployAlert(ctx context.Context, tenantID, providerType, providerID string, alert json.RawMessage, alertID string) (json.RawMessage, error) {
	instance, err := s.installedInstance(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}
	deployer, ok := instance.(providers.AlertDeployer)
	if !ok {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not support alert deployment", providerType))
	}
	return deployer.DeployAlert(ctx, alert, alertID)
}

// GetLogs returns recent raw vendor logs. A provider installed without a
// readable secret yields an empty result, not an error.
func (s *ProviderService) GetLogs(ctx context.Context, tenantID, providerType, providerID string, limit int) ([]json.RawMessage, error) {
	record, _, err := s.lookup(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}
	instance, err := s.instantiate(ctx, record)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return nil, nil
		}
		return nil, err
	}
	fetcher, ok := instance.(providers.LogFetcher)
	if !ok {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not support log retrieval", providerType))
	}
	return fetcher.GetLogs(ctx, limit)
}

// GetAlertSchema returns the vendor alert definition schema.
func (s *ProviderService) GetAlertSchema(providerType string) (map[string]any, error) {
	def, err := s.registry.Get(providerType)
	if err != nil {
		return nil, err
	}
	if def.AlertSchema == nil {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not expose an alert schema", providerType))
	}
	return def.AlertSchema(), nil
}

// FormatEvent runs a provider's static formatter on a pushed event. A nil
// alert with nil error means the event was handled without producing one
// (e.g. an SNS subscription confirmation).
func (s *ProviderService) FormatEvent(providerType string, event map[string]any) (*models.Alert, error) {
	def, err := s.registry.Get(providerType)
	if err != nil {
		return nil, err
	}
	if def.FormatAlert == nil {
		return nil, NewValidationError("provider_type", fmt.Sprintf("%s does not support push ingestion", providerType))
	}
	alert, err := def.FormatAlert(event)
	if err != nil || alert == nil {
		return nil, err
	}
	alert.Pushed = true
	if alert.LastReceived.IsZero() {
		alert.LastReceived = time.Now().UTC()
	}
	return alert, nil
}

// lookup loads the record and its registry definition.
func (s *ProviderService) lookup(ctx context.Context, tenantID, providerType, providerID string) (*models.ProviderRecord, providers.Definition, error) {
	record, err := s.store.Get(ctx, tenantID, providerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, providers.Definition{}, ErrNotFound
		}
		return nil, providers.Definition{}, fmt.Errorf("get provider record: %w", err)
	}
	if record.Type != providerType {
		return nil, providers.Definition{}, ErrNotFound
	}
	def, err := s.registry.Get(record.Type)
	if err != nil {
		return nil, providers.Definition{}, err
	}
	return record, def, nil
}

// instantiate rebuilds a provider instance from its stored secret.
func (s *ProviderService) instantiate(ctx context.Context, record *models.ProviderRecord) (providers.Provider, error) {
	var cfg models.ProviderConfig
	if err := secrets.ReadJSON(ctx, s.secrets, record.ConfigurationKey, &cfg); err != nil {
		return nil, err
	}
	return s.registry.NewProvider(record.Type, record.ID, cfg)
}

func (s *ProviderService) installedInstance(ctx context.Context, tenantID, providerType, providerID string) (providers.Provider, error) {
	record, _, err := s.lookup(ctx, tenantID, providerType, providerID)
	if err != nil {
		return nil, err
	}
	return s.instantiate(ctx, record)
}
