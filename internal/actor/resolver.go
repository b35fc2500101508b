package actor

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"gantry/internal/tenant"
	"gantry/pkg/domain"
	"gantry/pkg/domainerrors"
	"gantry/pkg/platform/sentinel"
)

// Claims are the JWT claims carried by a gantry access token. The subject is
// the actor ID.
type Claims struct {
	TenantID    string   `json:"tenant_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	System      bool     `json:"system,omitempty"`
	jwt.RegisteredClaims
}

// TenantLookup is the slice of the tenant store the resolver needs.
type TenantLookup interface {
	FindByID(ctx context.Context, id domain.TenantID) (*tenant.Tenant, error)
}

// Resolver turns a bearer credential into an Actor. Pure function of the
// credential plus the tenant lookup; no side effects.
type Resolver struct {
	signingKey []byte
	issuer     string
	tenants    TenantLookup
}

func NewResolver(signingKey, issuer string, tenants TenantLookup) *Resolver {
	return &Resolver{signingKey: []byte(signingKey), issuer: issuer, tenants: tenants}
}

// Resolve validates the credential and returns the acting identity. Fails
// with CodeUnauthorized for absent/invalid credentials and for credentials
// bound to a deactivated tenant.
func (r *Resolver) Resolve(ctx context.Context, credential string) (Actor, error) {
	if credential == "" {
		return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "missing credential")
	}

	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return r.signingKey, nil
	}, jwt.WithIssuer(r.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "credential has expired")
		}
		return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid credential")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid credential claims")
	}

	actorID, err := domain.ParseActorID(claims.Subject)
	if err != nil {
		return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid actor id in credential")
	}

	act := Actor{
		ID:          actorID,
		Permissions: claims.Permissions,
		System:      claims.System,
	}

	// System actors may carry no tenant binding; everyone else must.
	if claims.TenantID == "" {
		if !claims.System {
			return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "credential is not bound to a tenant")
		}
		return act, nil
	}

	tenantID, err := domain.ParseTenantID(claims.TenantID)
	if err != nil {
		return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid tenant id in credential")
	}

	t, err := r.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "unknown tenant")
		}
		return Actor{}, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "tenant lookup failed")
	}
	if !t.Active() {
		return Actor{}, domainerrors.New(domainerrors.CodeUnauthorized, "tenant is deactivated")
	}

	act.TenantID = tenantID
	return act, nil
}
