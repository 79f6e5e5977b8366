package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
	"github.com/signalbridge/signalbridge/pkg/secrets"
	"github.com/signalbridge/signalbridge/pkg/services"
	"github.com/signalbridge/signalbridge/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memStore is a minimal in-memory store.Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.ProviderRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.ProviderRecord)}
}

func (m *memStore) Create(_ context.Context, r *models.ProviderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.TenantID == r.TenantID && existing.Name == r.Name {
			return store.ErrDuplicateName
		}
	}
	copied := *r
	m.records[r.TenantID+"/"+r.ID] = &copied
	return nil
}

func (m *memStore) Get(_ context.Context, tenantID, id string) (*models.ProviderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[tenantID+"/"+id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memStore) List(_ context.Context, tenantID string) ([]*models.ProviderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ProviderRecord
	for _, r := range m.records {
		if r.TenantID == tenantID {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, r *models.ProviderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.TenantID+"/"+r.ID]; !ok {
		return store.ErrNotFound
	}
	copied := *r
	m.records[r.TenantID+"/"+r.ID] = &copied
	return nil
}

func (m *memStore) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[tenantID+"/"+id]; !ok {
		return store.ErrNotFound
	}
	delete(m.records, tenantID+"/"+id)
	return nil
}

// apiStubProvider scripts scope and webhook behavior per test.
type apiStubProvider struct {
	scopeResults models.ScopeResults
	webhookReqs  []providers.WebhookRequest
}

func (p *apiStubProvider) Type() string { return "stub" }

func (p *apiStubProvider) ValidateScopes(context.Context) models.ScopeResults {
	return p.scopeResults
}

func (p *apiStubProvider) SetupWebhook(_ context.Context, req providers.WebhookRequest) error {
	p.webhookReqs = append(p.webhookReqs, req)
	return nil
}

type apiHarness struct {
	router   *gin.Engine
	provider *apiStubProvider
	service  *services.ProviderService
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	provider := &apiStubProvider{
		scopeResults: models.ScopeResults{
			"read":     models.ScopeOK(),
			"webhooks": models.ScopeOK(),
		},
	}

	registry := providers.NewRegistry()
	registry.Register(providers.Definition{
		Type:        "stub",
		DisplayName: "Stub",
		AuthFields:  []models.AuthField{{Name: "token", Required: true, Sensitive: true}},
		Scopes: []models.ProviderScope{
			{Name: "read", Mandatory: true},
			{Name: "webhooks", MandatoryForWebhook: true},
		},
		New: func(id string, cfg models.ProviderConfig) (providers.Provider, error) {
			if cfg.Authentication["token"] == "" {
				return nil, &providers.ConfigValidationError{
					Provider: "stub", Field: "token", Message: "required field is missing",
				}
			}
			return provider, nil
		},
		FormatAlert: func(event map[string]any) (*models.Alert, error) {
			name, _ := event["name"].(string)
			if name == "" {
				return nil, nil
			}
			return &models.Alert{Name: name, Status: models.StatusFiring}, nil
		},
		AlertSchema: func() map[string]any {
			return map[string]any{"type": "object"}
		},
		Capabilities: models.ProviderCapabilities{Webhook: true},
	})

	service := services.NewProviderService(registry, newMemStore(), secrets.NewMemoryManager(), "https://signalbridge.example.com")
	server := NewServer(service, nil)
	return &apiHarness{
		router:   server.Router(),
		provider: provider,
		service:  service,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

var tenantHeaders = map[string]string{
	"X-Tenant-ID":  "acme",
	"X-User-Email": "alex@example.com",
}

func installBody(name string) map[string]any {
	return map[string]any{
		"provider_type": "stub",
		"provider_name": name,
		"config":        map[string]string{"token": "secret"},
	}
}

func (h *apiHarness) install(t *testing.T, name string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/providers/install", installBody(name), tenantHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result.ID
}

func TestTenantHeaderRequired(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/providers", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Tenant-ID")
}

func TestListProviders(t *testing.T) {
	h := newAPIHarness(t)
	h.install(t, "main")

	rec := h.do(t, http.MethodGet, "/api/v1/providers", nil, tenantHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []models.ProviderDescriptor `json:"providers"`
		Installed []models.ProviderDescriptor `json:"installed_providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "stub", body.Providers[0].Type)
	require.Len(t, body.Installed, 1)
	assert.True(t, body.Installed[0].Installed)
}

func TestInstallProvider(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("success returns id and scopes", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/providers/install", installBody("main"), tenantHeaders)
		require.Equal(t, http.StatusOK, rec.Code)

		var result struct {
			ID              string          `json:"id"`
			ValidatedScopes map[string]any  `json:"validatedScopes"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Len(t, result.ID, 32)
		assert.Equal(t, true, result.ValidatedScopes["read"])
	})

	t.Run("duplicate name is a conflict", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/providers/install", installBody("main"), tenantHeaders)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing required field is a bad request", func(t *testing.T) {
		body := installBody("broken")
		body["config"] = map[string]string{}
		rec := h.do(t, http.MethodPost, "/api/v1/providers/install", body, tenantHeaders)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "token")
	})

	t.Run("unknown type is not found", func(t *testing.T) {
		body := installBody("nope")
		body["provider_type"] = "nope"
		rec := h.do(t, http.MethodPost, "/api/v1/providers/install", body, tenantHeaders)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unconfirmed mandatory scope is a precondition failure", func(t *testing.T) {
		h.provider.scopeResults["read"] = models.ScopeDenied("forbidden")
		defer func() { h.provider.scopeResults["read"] = models.ScopeOK() }()

		rec := h.do(t, http.MethodPost, "/api/v1/providers/install", installBody("gated"), tenantHeaders)
		require.Equal(t, http.StatusPreconditionFailed, rec.Code)

		var scopes map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scopes))
		assert.Equal(t, "forbidden", scopes["read"])
		assert.Equal(t, true, scopes["webhooks"])
	})
}

func TestDeleteProvider(t *testing.T) {
	h := newAPIHarness(t)
	id := h.install(t, "main")

	rec := h.do(t, http.MethodDelete, "/api/v1/providers/stub/"+id, nil, tenantHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/providers/stub/"+id, nil, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateScopesEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	id := h.install(t, "main")

	h.provider.scopeResults["read"] = models.ScopeDenied("revoked")
	rec := h.do(t, http.MethodPost, "/api/v1/providers/stub/"+id+"/scopes", nil, tenantHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var scopes map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scopes))
	assert.Equal(t, "revoked", scopes["read"])
}

func TestInstallWebhookEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	id := h.install(t, "main")

	rec := h.do(t, http.MethodPost, "/api/v1/providers/install/webhook/stub/"+id, nil, tenantHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, h.provider.webhookReqs, 1)
	assert.Equal(t,
		"https://signalbridge.example.com/api/v1/ingest/stub?provider_id="+id,
		h.provider.webhookReqs[0].CallbackURL)
}

func TestWebhookSettingsEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/providers/stub/webhook", nil, tenantHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings struct {
		CallbackURL string `json:"callbackUrl"`
		APIKey      string `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "https://signalbridge.example.com/api/v1/ingest/stub", settings.CallbackURL)
	assert.NotEmpty(t, settings.APIKey)
}

func TestAlertSchemaEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/providers/stub/schema", nil, tenantHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"object"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/v1/providers/nope/schema", nil, tenantHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	// Provisioning the webhook mints the tenant's ingestion key.
	settings := h.do(t, http.MethodGet, "/api/v1/providers/stub/webhook", nil, tenantHeaders)
	require.Equal(t, http.StatusOK, settings.Code)
	var minted struct {
		APIKey string `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(settings.Body.Bytes(), &minted))

	t.Run("rejects missing or bogus key", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/ingest/stub", map[string]any{"name": "x"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = h.do(t, http.MethodPost, "/api/v1/ingest/stub", map[string]any{"name": "x"},
			map[string]string{"X-API-KEY": "bogus"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("formats and finalizes the event", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/ingest/stub", map[string]any{"name": "cpu high"},
			map[string]string{"X-API-KEY": minted.APIKey})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var alert models.Alert
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
		assert.Equal(t, "cpu high", alert.Name)
		assert.Equal(t, "cpu high", alert.Fingerprint)
		assert.Equal(t, models.DefaultEnvironment, alert.Environment)
		assert.True(t, alert.Pushed)
	})

	t.Run("accepts events that produce no alert", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/ingest/stub", map[string]any{},
			map[string]string{"X-API-KEY": minted.APIKey})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "accepted")
	})

	t.Run("key in basic auth password works", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"name": "disk full"}))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/stub", &buf)
		req.SetBasicAuth("api_key", minted.APIKey)
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("unknown type is not found", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/ingest/nope", map[string]any{"name": "x"},
			map[string]string{"X-API-KEY": minted.APIKey})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy without a check", func(t *testing.T) {
		h := newAPIHarness(t)
		rec := h.do(t, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("failing check reports unavailable", func(t *testing.T) {
		service := services.NewProviderService(providers.NewRegistry(), newMemStore(),
			secrets.NewMemoryManager(), "https://signalbridge.example.com")
		server := NewServer(service, func() error { return assert.AnError })
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
