package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ingestAPIKey pulls the webhook API key out of the request. Vendors differ
// in where they can carry it: a custom header, basic-auth credentials in
// the callback URL, or a query parameter.
func ingestAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-KEY"); key != "" {
		return key
	}
	if _, password, ok := c.Request.BasicAuth(); ok && password != "" {
		return password
	}
	return c.Query("api_key")
}

// ingestHandler handles POST /api/v1/ingest/:type. The raw vendor payload
// is run through the provider type's static formatter. A formatter may
// consume an event without producing an alert, e.g. a subscription
// confirmation handshake; that is still a success.
func (s *Server) ingestHandler(c *gin.Context) {
	providerType := c.Param("type")

	tenant, err := s.providers.ResolveWebhookKey(c.Request.Context(), ingestAPIKey(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook api key"})
		return
	}

	var event map[string]any
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := s.providers.FormatEvent(providerType, event)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if alert == nil {
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	alert.Finalize()
	s.logger.Info("alert ingested",
		"tenant_id", tenant,
		"provider_type", providerType,
		"provider_id", c.Query("provider_id"),
		"fingerprint", alert.Fingerprint)
	c.JSON(http.StatusAccepted, alert)
}
