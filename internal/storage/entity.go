// Package storage defines the engine port the scoped repository talks to,
// plus in-memory and postgres implementations. Every row is partitioned by
// tenant id; no query executes without a tenant filter unless the scope
// explicitly spans all tenants.
package storage

import (
	"maps"
	"time"

	"gantry/pkg/domain"
)

// Entity is a generic schemaless row. The framework does not interpret
// Fields; procedures declare their shape via input schemas.
type Entity struct {
	ID        string          `json:"id"`
	TenantID  domain.TenantID `json:"tenant_id"`
	Type      string          `json:"type"`
	Fields    map[string]any  `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep-enough copy: the field map is copied, values are
// shared. Engines return clones so callers cannot mutate stored state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Fields = maps.Clone(e.Fields)
	return &cp
}

// Scope restricts an engine call to one tenant. AllTenants is the explicit,
// permission-checked escape for system operations.
type Scope struct {
	TenantID   domain.TenantID
	AllTenants bool
}

// Sort orders a listing by one field.
type Sort struct {
	Field string
	Desc  bool
}

// Query carries a listing's predicate and window. Filter matches field
// equality; the same predicate produces both items and total.
type Query struct {
	Filter map[string]any
	Sort   Sort
	Offset int
	Limit  int
}
