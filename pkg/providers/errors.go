package providers

import (
	"errors"
	"fmt"
)

// ErrProviderNotFound matches any NotFoundError via errors.Is.
var ErrProviderNotFound = errors.New("provider type not found")

// NotFoundError reports an unknown provider type discriminator.
type NotFoundError struct {
	Type string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider type %q is not registered", e.Type)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrProviderNotFound
}

// ConfigValidationError reports tenant-supplied configuration that fails a
// provider's declared requirements. It is fatal: the provider instance is
// never constructed.
type ConfigValidationError struct {
	Provider string
	Field    string
	Message  string
}

func (e *ConfigValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid configuration field %q: %s", e.Provider, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: invalid configuration: %s", e.Provider, e.Message)
}

// AlertRetrievalError reports a failed vendor read during alert retrieval.
// StatusCode is the vendor's own status, relayed verbatim to callers.
type AlertRetrievalError struct {
	Message    string
	StatusCode int
}

func (e *AlertRetrievalError) Error() string {
	return fmt.Sprintf("get alerts failed with status %d: %s", e.StatusCode, e.Message)
}

// VendorError reports any other failed vendor call, carrying the vendor's
// status and response body for relay.
type VendorError struct {
	Provider   string
	Operation  string
	StatusCode int
	Body       string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s: %s failed with status %d: %s", e.Provider, e.Operation, e.StatusCode, e.Body)
}
