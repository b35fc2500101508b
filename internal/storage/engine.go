package storage

import "context"

// Engine is the narrow storage port. Implementations guarantee row-level
// atomicity for single-entity writes and capture pre/post images in the same
// atomic step so audit diffs never come from a separately-executed lookup.
//
// Absence is reported with sentinel.ErrNotFound; uniqueness violations with
// sentinel.ErrConflict.
type Engine interface {
	FindOne(ctx context.Context, entityType string, scope Scope, id string) (*Entity, error)
	// List returns one page of matches plus the total count computed from the
	// same predicate.
	List(ctx context.Context, entityType string, scope Scope, q Query) ([]*Entity, int, error)
	Insert(ctx context.Context, entityType string, e *Entity) (*Entity, error)
	// Update applies the patch and returns both the pre-image and the written
	// row.
	Update(ctx context.Context, entityType string, scope Scope, id string, patch map[string]any) (before, after *Entity, err error)
	// Delete removes the row and returns its prior snapshot.
	Delete(ctx context.Context, entityType string, scope Scope, id string) (*Entity, error)
}
