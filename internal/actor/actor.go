// Package actor resolves inbound credentials into the authenticated identity
// a procedure executes as.
package actor

import "gantry/pkg/domain"

// Actor is the authenticated identity for one request. Immutable after
// resolution; never persisted.
type Actor struct {
	ID          domain.ActorID
	TenantID    domain.TenantID
	Permissions []string
	// System marks internal service identities that bypass the permission
	// gate. Every bypass is logged and lands in audit metadata.
	System bool
}

// Has reports whether the actor's effective permission set contains perm.
func (a Actor) Has(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
