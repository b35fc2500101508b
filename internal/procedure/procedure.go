// Package procedure holds the declarative operation registry. A service
// declares its queries and mutations once at process start; the dispatcher
// drives everything else from these descriptors.
package procedure

import (
	"context"
	"time"

	"gantry/internal/actor"
	"gantry/internal/repository"
	"gantry/pkg/domain"
)

// Kind separates read paths from write paths.
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// ServiceContext is the request-scoped identity every handler and
// side-effect stage receives.
type ServiceContext struct {
	TenantID  domain.TenantID
	ActorID   domain.ActorID
	RequestID string
}

// Invocation is what a handler executes with: the service context, a
// repository handle bound to the caller's tenant, and the resolved actor.
type Invocation struct {
	Service ServiceContext
	Repo    *repository.Handle
	Actor   actor.Actor
}

// Result is a handler's outcome. Mutation is nil for queries and for
// mutations that found nothing to change; the side-effect pipeline runs only
// when it is set.
type Result struct {
	Value    any
	Mutation *repository.Mutation
}

// Handler executes one procedure against validated input.
type Handler func(ctx context.Context, input map[string]any, inv *Invocation) (*Result, error)

// CachePolicy opts a query into the read-through cache.
type CachePolicy struct {
	TTL  time.Duration
	Tags []string
	// Key overrides the derived request key, e.g. to cache a single-entity
	// lookup under its entity key so mutations tear it down exactly.
	Key func(input map[string]any, sc ServiceContext) string
}

// Definition is an immutable procedure descriptor, registered once at
// process start.
type Definition struct {
	Name       string
	Kind       Kind
	EntityType string
	// InputSchema is a JSON Schema document validating the raw input.
	InputSchema string
	// RequiredPermission is optional; when empty the gate is skipped.
	// Mutations without one are reported at registration as a warning.
	RequiredPermission string
	// CrossTenant allows system actors holding the cross-tenant capability
	// to run this procedure against all tenants.
	CrossTenant bool
	Cache       *CachePolicy
	// InvalidationTags are torn down after this mutation commits.
	InvalidationTags []string
	Handler          Handler
}
