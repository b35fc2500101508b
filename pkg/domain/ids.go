// Package domain holds identifier and value types shared across modules.
package domain

import "github.com/google/uuid"

// Typed UUIDs prevent mixing up tenant, actor, and entity identifiers in
// function signatures. Convert explicitly at the edges.
type (
	TenantID uuid.UUID
	ActorID  uuid.UUID
)

func (t TenantID) String() string { return uuid.UUID(t).String() }
func (t TenantID) IsNil() bool    { return uuid.UUID(t) == uuid.Nil }

func (a ActorID) String() string { return uuid.UUID(a).String() }
func (a ActorID) IsNil() bool    { return uuid.UUID(a) == uuid.Nil }

// ParseTenantID parses a tenant ID from its string form.
func ParseTenantID(s string) (TenantID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, err
	}
	return TenantID(u), nil
}

// ParseActorID parses an actor ID from its string form.
func ParseActorID(s string) (ActorID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ActorID{}, err
	}
	return ActorID(u), nil
}
