package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// InstallProviderRequest represents the request body for installing a provider.
type InstallProviderRequest struct {
	ProviderType string            `json:"provider_type" binding:"required"`
	ProviderName string            `json:"provider_name"`
	Config       map[string]string `json:"config" binding:"required"`
}

func (r InstallProviderRequest) providerConfig() models.ProviderConfig {
	return models.ProviderConfig{
		Name:           r.ProviderName,
		Authentication: r.Config,
	}
}

// listProvidersHandler handles GET /api/v1/providers. The response carries
// the full catalog next to the tenant's installed providers.
func (s *Server) listProvidersHandler(c *gin.Context) {
	installed, err := s.providers.ListInstalled(c.Request.Context(), tenantID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"providers":           s.providers.Catalog(),
		"installed_providers": installed,
	})
}

// installHandler handles POST /api/v1/providers/install.
func (s *Server) installHandler(c *gin.Context) {
	var req InstallProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.providers.Install(c.Request.Context(),
		tenantID(c), userEmail(c), req.ProviderType, req.ProviderName, req.providerConfig())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// installOAuth2Handler handles POST /api/v1/providers/install/oauth2/:type.
// The body is the raw OAuth2 callback parameter map.
func (s *Server) installOAuth2Handler(c *gin.Context) {
	var params map[string]string
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.providers.InstallOAuth2(c.Request.Context(),
		tenantID(c), userEmail(c), c.Param("type"), params)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// updateHandler handles PUT /api/v1/providers/:type/:id.
func (s *Server) updateHandler(c *gin.Context) {
	var req InstallProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scopes, err := s.providers.Update(c.Request.Context(),
		tenantID(c), userEmail(c), c.Param("type"), c.Param("id"), req.providerConfig())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validatedScopes": scopes})
}

// deleteHandler handles DELETE /api/v1/providers/:type/:id.
func (s *Server) deleteHandler(c *gin.Context) {
	err := s.providers.Uninstall(c.Request.Context(), tenantID(c), c.Param("type"), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// validateScopesHandler handles POST /api/v1/providers/:type/:id/scopes.
func (s *Server) validateScopesHandler(c *gin.Context) {
	scopes, err := s.providers.ValidateScopes(c.Request.Context(),
		tenantID(c), c.Param("type"), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scopes)
}

// TestProviderRequest represents the request body for testing an uninstalled
// provider configuration.
type TestProviderRequest struct {
	ProviderType string            `json:"provider_type" binding:"required"`
	Config       map[string]string `json:"config" binding:"required"`
}

// testHandler handles POST /api/v1/providers/test. Nothing is persisted.
func (s *Server) testHandler(c *gin.Context) {
	var req TestProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scopes, err := s.providers.Test(c.Request.Context(), req.ProviderType,
		models.ProviderConfig{Authentication: req.Config})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scopes)
}

// installWebhookHandler handles POST /api/v1/providers/install/webhook/:type/:id.
func (s *Server) installWebhookHandler(c *gin.Context) {
	err := s.providers.InstallWebhook(c.Request.Context(), tenantID(c), c.Param("type"), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "webhook installed"})
}

// webhookSettingsHandler handles GET /api/v1/providers/:type/webhook.
func (s *Server) webhookSettingsHandler(c *gin.Context) {
	settings, err := s.providers.GetWebhookSettings(c.Request.Context(), tenantID(c), c.Param("type"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// alertSchemaHandler handles GET /api/v1/providers/:type/schema.
func (s *Server) alertSchemaHandler(c *gin.Context) {
	schema, err := s.providers.GetAlertSchema(c.Param("type"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// alertsHandler handles GET /api/v1/providers/:type/:id/alerts.
func (s *Server) alertsHandler(c *gin.Context) {
	alerts, err := s.providers.GetAlerts(c.Request.Context(), tenantID(c), c.Param("type"), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	c.JSON(http.StatusOK, alerts)
}

// configuredAlertsHandler handles GET /api/v1/providers/:type/:id/configured-alerts.
// An optional alert_id query narrows the result to one definition.
func (s *Server) configuredAlertsHandler(c *gin.Context) {
	configured, err := s.providers.GetAlertsConfiguration(c.Request.Context(),
		tenantID(c), c.Param("type"), c.Param("id"), c.Query("alert_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if configured == nil {
		configured = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, configured)
}

// deployAlertHandler handles POST /api/v1/providers/:type/:id/configured-alerts.
// The body is the vendor-native alert definition, relayed as-is.
func (s *Server) deployAlertHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.providers.DeployAlert(c.Request.Context(),
		tenantID(c), c.Param("type"), c.Param("id"), body, c.Query("alert_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

// logsHandler handles GET /api/v1/providers/:type/:id/logs.
func (s *Server) logsHandler(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	logs, err := s.providers.GetLogs(c.Request.Context(),
		tenantID(c), c.Param("type"), c.Param("id"), limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if logs == nil {
		logs = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, logs)
}
