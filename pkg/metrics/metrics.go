// Package metrics exposes the prometheus collectors used to surface
// best-effort failures that must not abort their operation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SecretDeleteFailures counts secret deletions that failed during
	// provider uninstall. The uninstall itself still completes.
	SecretDeleteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbridge",
		Name:      "secret_delete_failures_total",
		Help:      "Secret deletions that failed during provider uninstall.",
	}, []string{"provider_type"})

	// ScopeCheckFailures counts scope probes that came back unconfirmed.
	ScopeCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbridge",
		Name:      "scope_check_failures_total",
		Help:      "Scope probes that returned a denial.",
	}, []string{"provider_type", "scope"})

	// VendorCallErrors counts failed outbound vendor calls by operation.
	VendorCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbridge",
		Name:      "vendor_call_errors_total",
		Help:      "Failed outbound vendor API calls.",
	}, []string{"provider_type", "operation"})
)
