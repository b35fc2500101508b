package tenant

import (
	"context"

	"gantry/pkg/domain"
)

// Store is interface-driven so the resolver can run against in-memory or
// postgres persistence without rewiring.
type Store interface {
	// Create persists a tenant, returning sentinel.ErrConflict when the name
	// is already taken (case-insensitive).
	Create(ctx context.Context, t *Tenant) error
	// FindByID returns sentinel.ErrNotFound for unknown tenants.
	FindByID(ctx context.Context, id domain.TenantID) (*Tenant, error)
	// SetStatus transitions a tenant's lifecycle status.
	SetStatus(ctx context.Context, id domain.TenantID, status Status) error
}
