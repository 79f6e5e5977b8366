package datadog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalbridge/signalbridge/pkg/models"
	"github.com/signalbridge/signalbridge/pkg/providers"
)

func newTestProvider(t *testing.T, server *httptest.Server) *Provider {
	t.Helper()
	p, err := New("test-id", models.ProviderConfig{
		Authentication: map[string]string{
			"api_key": "k",
			"app_key": "a",
			"api_url": server.URL,
		},
	})
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Run("missing api_key fails with config validation error", func(t *testing.T) {
		_, err := New("id", models.ProviderConfig{
			Authentication: map[string]string{"app_key": "a"},
		})
		require.Error(t, err)

		var cve *providers.ConfigValidationError
		require.ErrorAs(t, err, &cve)
		assert.Equal(t, "api_key", cve.Field)
	})

	t.Run("api_url defaults to the public site", func(t *testing.T) {
		p, err := New("id", models.ProviderConfig{
			Authentication: map[string]string{"api_key": "k", "app_key": "a"},
		})
		require.NoError(t, err)
		assert.Equal(t, "https://api.datadoghq.com", p.apiURL)
	})
}

func TestProvider_ValidateScopes(t *testing.T) {
	t.Run("entry per scope with mixed outcomes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/api/v1/monitor":
				_, _ = w.Write([]byte(`[]`))
			case r.Method == http.MethodPost && r.URL.Path == "/api/v1/monitor":
				_, _ = w.Write([]byte(`{"id":99}`))
			case r.Method == http.MethodDelete:
				_, _ = w.Write([]byte(`{}`))
			case r.URL.Path == "/api/v1/integration/webhooks/configuration/webhooks":
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"errors":["Forbidden"]}`))
			case r.URL.Path == "/api/v1/metrics":
				_, _ = w.Write([]byte(`{"metrics":[]}`))
			case r.URL.Path == "/api/v1/logs-queries/list":
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"errors":["no logs access"]}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		results := newTestProvider(t, server).ValidateScopes(context.Background())
		require.Len(t, results, 5)
		assert.True(t, results["monitors_read"].Confirmed)
		assert.True(t, results["monitors_write"].Confirmed)
		assert.False(t, results["create_webhooks"].Confirmed)
		assert.Contains(t, results["create_webhooks"].Reason, "403")
		assert.True(t, results["metrics_read"].Confirmed)
		assert.False(t, results["logs_read"].Confirmed)
	})

	t.Run("auth headers sent on probes", func(t *testing.T) {
		var gotAPIKey, gotAppKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAPIKey = r.Header.Get("DD-API-KEY")
			gotAppKey = r.Header.Get("DD-APPLICATION-KEY")
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		newTestProvider(t, server).ValidateScopes(context.Background())
		assert.Equal(t, "k", gotAPIKey)
		assert.Equal(t, "a", gotAppKey)
	})
}

func TestProvider_GetAlerts(t *testing.T) {
	t.Run("normalizes monitors and skips broken ones", func(t *testing.T) {
		monitors := `[
			{"id":1,"name":"High CPU","message":"cpu","overall_state":"Alert",
			 "overall_state_modified":"2026-03-01T12:00:00Z","priority":1,
			 "tags":["env:production","team:core"]},
			{"id":2,"name":"Bad","message":"x","overall_state":"OK",
			 "overall_state_modified":"not-a-time","priority":4,"tags":[]}
		]`
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(monitors))
		}))
		defer server.Close()

		alerts, err := newTestProvider(t, server).GetAlerts(context.Background())
		require.NoError(t, err)
		require.Len(t, alerts, 1)

		alert := alerts[0]
		assert.Equal(t, "1", alert.ID)
		assert.Equal(t, "High CPU", alert.Name)
		assert.Equal(t, models.StatusFiring, alert.Status)
		assert.Equal(t, models.SeverityCritical, alert.Severity)
		assert.Equal(t, "High CPU", alert.Fingerprint)
		assert.Equal(t, "undefined", alert.Environment)
		assert.Equal(t, "production", alert.Extra["env"])
		assert.Equal(t, "core", alert.Extra["team"])
	})

	t.Run("vendor failure relays status code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"errors":["upstream down"]}`))
		}))
		defer server.Close()

		_, err := newTestProvider(t, server).GetAlerts(context.Background())
		require.Error(t, err)

		var retrievalErr *providers.AlertRetrievalError
		require.ErrorAs(t, err, &retrievalErr)
		assert.Equal(t, http.StatusBadGateway, retrievalErr.StatusCode)
		assert.Contains(t, retrievalErr.Message, "upstream down")
	})
}

func TestProvider_DeployAlert(t *testing.T) {
	t.Run("relays vendor rejection body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":["The value provided for parameter 'query' is invalid"]}`))
		}))
		defer server.Close()

		_, err := newTestProvider(t, server).DeployAlert(context.Background(), json.RawMessage(`{"name":"m"}`), "")
		require.Error(t, err)

		var vendorErr *providers.VendorError
		require.ErrorAs(t, err, &vendorErr)
		assert.Equal(t, http.StatusBadRequest, vendorErr.StatusCode)
		assert.Contains(t, vendorErr.Body, "query")
	})

	t.Run("returns vendor response on success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":123,"name":"m"}`))
		}))
		defer server.Close()

		resp, err := newTestProvider(t, server).DeployAlert(context.Background(), json.RawMessage(`{"name":"m"}`), "")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":123,"name":"m"}`, string(resp))
	})
}

func TestProvider_SetupWebhook(t *testing.T) {
	req := providers.WebhookRequest{
		TenantID:    "acme",
		CallbackURL: "https://platform.example.com/ingest/datadog?provider_id=1",
		APIKey:      "tenant-key",
	}

	t.Run("creates when missing", func(t *testing.T) {
		var created map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet:
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":["not found"]}`))
			case r.Method == http.MethodPost:
				require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
				_, _ = w.Write([]byte(`{}`))
			}
		}))
		defer server.Close()

		require.NoError(t, newTestProvider(t, server).SetupWebhook(context.Background(), req))
		assert.Equal(t, WebhookName("acme"), created["name"])
		assert.Equal(t, req.CallbackURL, created["url"])
		assert.Contains(t, created["custom_headers"], "tenant-key")
	})

	t.Run("unchanged url performs no mutation", func(t *testing.T) {
		var mutations int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				mutations++
			}
			_ = json.NewEncoder(w).Encode(webhookIntegration{
				Name: WebhookName("acme"),
				URL:  req.CallbackURL,
			})
		}))
		defer server.Close()

		require.NoError(t, newTestProvider(t, server).SetupWebhook(context.Background(), req))
		assert.Zero(t, mutations)
	})

	t.Run("changed url triggers update", func(t *testing.T) {
		var updated map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = json.NewEncoder(w).Encode(webhookIntegration{
					Name: WebhookName("acme"),
					URL:  "https://old.example.com",
				})
			case http.MethodPut:
				require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
				_, _ = w.Write([]byte(`{}`))
			}
		}))
		defer server.Close()

		require.NoError(t, newTestProvider(t, server).SetupWebhook(context.Background(), req))
		assert.Equal(t, req.CallbackURL, updated["url"])
		assert.Contains(t, updated["custom_headers"], "tenant-key")
		assert.Equal(t, "json", updated["encode_as"])
		assert.Equal(t, webhookPayloadTemplate, updated["payload"])
	})

	t.Run("setup alerts retrofits only unwired monitors", func(t *testing.T) {
		mention := "@webhook-" + WebhookName("acme")
		var monitorUpdates []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/api/v1/integration/webhooks/configuration/webhooks/"+WebhookName("acme"):
				_ = json.NewEncoder(w).Encode(webhookIntegration{Name: WebhookName("acme"), URL: req.CallbackURL})
			case r.Method == http.MethodGet && r.URL.Path == "/api/v1/monitor":
				_, _ = w.Write([]byte(`[
					{"id":1,"name":"a","message":"alert one","overall_state":"OK","overall_state_modified":"2026-03-01T12:00:00Z","priority":3,"tags":[]},
					{"id":2,"name":"b","message":"alert two ` + mention + `","overall_state":"OK","overall_state_modified":"2026-03-01T12:00:00Z","priority":3,"tags":[]}
				]`))
			case r.Method == http.MethodPut:
				var body struct {
					Message string `json:"message"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				monitorUpdates = append(monitorUpdates, r.URL.Path+" "+body.Message)
				_, _ = w.Write([]byte(`{}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		withAlerts := req
		withAlerts.SetupAlerts = true
		require.NoError(t, newTestProvider(t, server).SetupWebhook(context.Background(), withAlerts))
		require.Len(t, monitorUpdates, 1)
		assert.Contains(t, monitorUpdates[0], "/api/v1/monitor/1")
		assert.Contains(t, monitorUpdates[0], mention)
	})
}

func TestFormatAlert(t *testing.T) {
	event := map[string]any{
		"id":               "evt-1",
		"title":            "[Triggered on {host:web-1}] High CPU",
		"body":             "CPU above threshold",
		"last_updated":     "1767268800000",
		"alert_transition": "Triggered",
		"severity":         "P2",
		"url":              "https://app.datadoghq.com/event/1",
		"tags":             "monitor,env:production,service:checkout",
	}

	t.Run("normalizes the webhook delivery", func(t *testing.T) {
		alert, err := FormatAlert(event)
		require.NoError(t, err)

		assert.Equal(t, "evt-1", alert.ID)
		assert.Equal(t, "High CPU", alert.Name)
		assert.Equal(t, models.StatusFiring, alert.Status)
		assert.Equal(t, models.SeverityHigh, alert.Severity)
		assert.Equal(t, time.UnixMilli(1767268800000).UTC(), alert.LastReceived)
		assert.Equal(t, "CPU above threshold", alert.Message)
		assert.Equal(t, []string{"datadog"}, alert.Source)
		assert.Equal(t, "High CPU", alert.Fingerprint)
		assert.Equal(t, "production", alert.Extra["env"])
		assert.Equal(t, "checkout", alert.Extra["service"])
		_, hasMonitorTag := alert.Extra["monitor"]
		assert.False(t, hasMonitorTag)
	})

	t.Run("recovered transition resolves", func(t *testing.T) {
		recovered := map[string]any{
			"id": "evt-2", "title": "plain title", "last_updated": float64(1767268800000),
			"alert_transition": "Recovered", "severity": "P4",
		}
		alert, err := FormatAlert(recovered)
		require.NoError(t, err)
		assert.Equal(t, models.StatusResolved, alert.Status)
		assert.Equal(t, models.SeverityLow, alert.Severity)
		assert.Equal(t, "plain title", alert.Name)
	})

	t.Run("bad timestamp fails", func(t *testing.T) {
		_, err := FormatAlert(map[string]any{"title": "t", "last_updated": "soon"})
		require.Error(t, err)
	})
}
