// Package api exposes the provider lifecycle over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalbridge/signalbridge/pkg/services"
	"github.com/signalbridge/signalbridge/pkg/version"
)

// Server represents the API server
type Server struct {
	providers *services.ProviderService
	health    func() error
	logger    *slog.Logger
}

// NewServer creates a new API server. healthCheck reports backing-store
// connectivity; nil means no check.
func NewServer(providerService *services.ProviderService, healthCheck func() error) *Server {
	return &Server{
		providers: providerService,
		health:    healthCheck,
		logger:    slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(securityHeaders())

	router.GET("/health", s.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Push ingestion authenticates by webhook API key, not tenant header.
	v1.POST("/ingest/:type", s.ingestHandler)

	providers := v1.Group("/providers", tenantContext())
	providers.GET("", s.listProvidersHandler)
	providers.POST("/install", s.installHandler)
	providers.POST("/install/oauth2/:type", s.installOAuth2Handler)
	providers.POST("/install/webhook/:type/:id", s.installWebhookHandler)
	providers.POST("/test", s.testHandler)
	providers.GET("/:type/webhook", s.webhookSettingsHandler)
	providers.GET("/:type/schema", s.alertSchemaHandler)
	providers.PUT("/:type/:id", s.updateHandler)
	providers.DELETE("/:type/:id", s.deleteHandler)
	providers.POST("/:type/:id/scopes", s.validateScopesHandler)
	providers.GET("/:type/:id/alerts", s.alertsHandler)
	providers.GET("/:type/:id/configured-alerts", s.configuredAlertsHandler)
	providers.POST("/:type/:id/configured-alerts", s.deployAlertHandler)
	providers.GET("/:type/:id/logs", s.logsHandler)

	return router
}

// healthHandler handles GET /health.
// Returns a minimal response suitable for unauthenticated access.
func (s *Server) healthHandler(c *gin.Context) {
	if s.health != nil {
		if err := s.health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   version.Full(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
