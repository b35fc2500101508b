package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Storage engines, caches, and
// transports return these (optionally wrapped) so services can translate them
// into coded domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist within the queried scope
// - ErrConflict: uniqueness constraint or concurrent-mutation violation
// - ErrUnavailable: downstream service temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
