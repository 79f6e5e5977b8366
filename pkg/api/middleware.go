package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-Email"

	tenantKey = "tenant_id"
	userKey   = "user_email"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// tenantContext requires the tenant header on every provider route and
// stashes tenant and user identity in the request context.
func tenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenantHeader)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + tenantHeader + " header",
			})
			return
		}
		c.Set(tenantKey, tenantID)
		c.Set(userKey, c.GetHeader(userHeader))
		c.Next()
	}
}

func tenantID(c *gin.Context) string { return c.GetString(tenantKey) }

func userEmail(c *gin.Context) string { return c.GetString(userKey) }
