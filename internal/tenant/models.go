// Package tenant manages the tenant registry consumed by the actor resolver.
// Every entity row in the system is partitioned by one of these tenants.
package tenant

import (
	"strings"
	"time"

	"gantry/pkg/domain"
	"gantry/pkg/domainerrors"
)

// Status tracks the tenant lifecycle.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Tenant is an isolated customer scope.
type Tenant struct {
	ID        domain.TenantID
	Name      string
	Status    Status
	CreatedAt time.Time
}

// Active reports whether credentials bound to this tenant may resolve.
func (t *Tenant) Active() bool { return t.Status == StatusActive }

// New validates and constructs an active tenant.
func New(id domain.TenantID, name string, now time.Time) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "tenant name is required")
	}
	if id.IsNil() {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "tenant id is required")
	}
	return &Tenant{ID: id, Name: name, Status: StatusActive, CreatedAt: now}, nil
}
