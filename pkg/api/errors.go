package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalbridge/signalbridge/pkg/providers"
	"github.com/signalbridge/signalbridge/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
// Unconfirmed mandatory scopes become a 412 carrying the full scope map so
// the caller sees every per-scope reason. Vendor failures relay the
// vendor's own status.
func mapServiceError(c *gin.Context, err error) {
	var precondition *providers.PreconditionError
	if errors.As(err, &precondition) {
		c.JSON(http.StatusPreconditionFailed, precondition.Results)
		return
	}

	var cfgErr *providers.ConfigValidationError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
		return
	}

	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}

	if errors.Is(err, services.ErrNotFound) || errors.Is(err, providers.ErrProviderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}

	if errors.Is(err, services.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "provider already exists"})
		return
	}

	var retrievalErr *providers.AlertRetrievalError
	if errors.As(err, &retrievalErr) {
		c.JSON(retrievalErr.StatusCode, gin.H{"error": retrievalErr.Message})
		return
	}

	var vendorErr *providers.VendorError
	if errors.As(err, &vendorErr) {
		c.JSON(vendorErr.StatusCode, gin.H{"error": vendorErr.Body})
		return
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
