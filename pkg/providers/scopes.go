package providers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// ScopeCheckFunc probes a single scope against the vendor. A nil error
// confirms the scope; a non-nil error becomes the denial reason. Read
// probes must not mutate vendor state; write probes create a throwaway
// resource and clean it up best-effort.
type ScopeCheckFunc func(ctx context.Context, scope models.ProviderScope) error

// RunScopeChecks probes every declared scope in parallel, each bounded by
// timeout. One failing probe never fails the batch: the result always has
// an entry per declared scope.
func RunScopeChecks(ctx context.Context, scopes []models.ProviderScope, check ScopeCheckFunc, timeout time.Duration) models.ScopeResults {
	results := make([]models.ScopeResult, len(scopes))

	g, ctx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		g.Go(func() error {
			checkCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := check(checkCtx, scope); err != nil {
				results[i] = models.ScopeDenied(err.Error())
			} else {
				results[i] = models.ScopeOK()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(models.ScopeResults, len(scopes))
	for i, scope := range scopes {
		out[scope.Name] = results[i]
	}
	return out
}

// PreconditionError reports unconfirmed mandatory scopes. It carries the
// full result map so the caller can relay per-scope reasons.
type PreconditionError struct {
	Results models.ScopeResults
	Missing []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("mandatory scopes not confirmed: %v", e.Missing)
}

// EnsureMandatory gates installation: every Mandatory scope must be
// confirmed in results.
func EnsureMandatory(scopes []models.ProviderScope, results models.ScopeResults) error {
	return ensure(scopes, results, false)
}

// EnsureMandatoryForWebhook additionally requires MandatoryForWebhook
// scopes; it gates only the webhook-provisioning path.
func EnsureMandatoryForWebhook(scopes []models.ProviderScope, results models.ScopeResults) error {
	return ensure(scopes, results, true)
}

func ensure(scopes []models.ProviderScope, results models.ScopeResults, forWebhook bool) error {
	if missing := results.MissingMandatory(scopes, forWebhook); len(missing) > 0 {
		return &PreconditionError{Results: results, Missing: missing}
	}
	return nil
}
