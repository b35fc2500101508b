// Package repository produces per-request data-access handles bound to
// exactly one tenant. A handle is built by the dispatcher for every
// invocation and never shared or cached across requests.
package repository

import (
	"context"
	"errors"

	"gantry/internal/storage"
	"gantry/pkg/domain"
	"gantry/pkg/domainerrors"
	"gantry/pkg/platform/sentinel"
)

// Policy bounds listings. Values come from configuration, not the core.
type Policy struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Page is a 1-based offset pagination request.
type Page struct {
	Number int
	Size   int
}

// ListResult pairs one page of items with the total count from the same
// predicate, so page and total are always consistent for a given snapshot.
type ListResult struct {
	Items []*storage.Entity `json:"items"`
	Total int               `json:"total"`
}

// Mutation is the committed outcome of a write, carrying the atomic pre- and
// post-images the side-effect pipeline derives audit records and events from.
type Mutation struct {
	Action domain.Action
	Before *storage.Entity
	After  *storage.Entity
	// Patch is the caller-supplied field set for updates; the change set is
	// restricted to these keys.
	Patch map[string]any
}

// Entity returns the row that best represents the mutation's subject: the
// written row, or the deleted snapshot.
func (m *Mutation) Entity() *storage.Entity {
	if m.After != nil {
		return m.After
	}
	return m.Before
}

// Handle is bound to one entity type and one tenant scope.
type Handle struct {
	engine     storage.Engine
	entityType string
	scope      storage.Scope
	policy     Policy
}

// New builds a handle. scope.AllTenants must only be set after the caller has
// passed the cross-tenant permission gate.
func New(engine storage.Engine, entityType string, scope storage.Scope, policy Policy) *Handle {
	return &Handle{engine: engine, entityType: entityType, scope: scope, policy: policy}
}

// Scope exposes the handle's tenant binding for side-effect construction.
func (h *Handle) Scope() storage.Scope { return h.scope }

// FindOne returns nil (not an error) when the id does not exist within the
// tenant scope.
func (h *Handle) FindOne(ctx context.Context, id string) (*storage.Entity, error) {
	e, err := h.engine.FindOne(ctx, h.entityType, h.scope, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// List runs a filtered, sorted, paginated listing. Page numbers are 1-based;
// sizes are clamped to the configured maximum.
func (h *Handle) List(ctx context.Context, filter map[string]any, page Page, sort storage.Sort) (*ListResult, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size <= 0 {
		page.Size = h.policy.DefaultPageSize
	}
	if h.policy.MaxPageSize > 0 && page.Size > h.policy.MaxPageSize {
		page.Size = h.policy.MaxPageSize
	}

	items, total, err := h.engine.List(ctx, h.entityType, h.scope, storage.Query{
		Filter: filter,
		Sort:   sort,
		Offset: (page.Number - 1) * page.Size,
		Limit:  page.Size,
	})
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: items, Total: total}, nil
}

// Insert creates an entity within the tenant scope. Uniqueness violations
// surface as CodeConflict.
func (h *Handle) Insert(ctx context.Context, values map[string]any) (*Mutation, error) {
	if h.scope.AllTenants {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "insert requires a single-tenant scope")
	}

	e, err := h.engine.Insert(ctx, h.entityType, &storage.Entity{
		TenantID: h.scope.TenantID,
		Fields:   values,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, domainerrors.Wrap(err, domainerrors.CodeConflict, "entity violates a uniqueness constraint")
		}
		return nil, err
	}
	return &Mutation{Action: domain.ActionCreate, After: e}, nil
}

// Update applies a patch. A nil Mutation with nil error means the id does not
// exist within scope; the dispatcher treats that as a no-op for side effects.
func (h *Handle) Update(ctx context.Context, id string, patch map[string]any) (*Mutation, error) {
	before, after, err := h.engine.Update(ctx, h.entityType, h.scope, id, patch)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, domainerrors.Wrap(err, domainerrors.CodeConflict, "patch violates a uniqueness constraint")
		}
		return nil, err
	}
	return &Mutation{Action: domain.ActionUpdate, Before: before, After: after, Patch: patch}, nil
}

// Delete removes an entity, returning its prior snapshot in the Mutation.
// Same nil-on-absence contract as Update.
func (h *Handle) Delete(ctx context.Context, id string) (*Mutation, error) {
	snap, err := h.engine.Delete(ctx, h.entityType, h.scope, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Mutation{Action: domain.ActionDelete, Before: snap}, nil
}
