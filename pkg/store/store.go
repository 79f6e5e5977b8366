// Package store persists installed provider records, tenant-scoped.
package store

import (
	"context"
	"errors"

	"github.com/signalbridge/signalbridge/pkg/models"
)

// ErrNotFound reports that no record matches the tenant-scoped lookup.
var ErrNotFound = errors.New("provider record not found")

// ErrDuplicateName reports a (tenant, name) collision on create.
var ErrDuplicateName = errors.New("provider name already installed for tenant")

// Store is the provider-record persistence contract. All lookups are
// scoped to one tenant.
type Store interface {
	Create(ctx context.Context, record *models.ProviderRecord) error
	Get(ctx context.Context, tenantID, id string) (*models.ProviderRecord, error)
	List(ctx context.Context, tenantID string) ([]*models.ProviderRecord, error)
	Update(ctx context.Context, record *models.ProviderRecord) error
	Delete(ctx context.Context, tenantID, id string) error
}
