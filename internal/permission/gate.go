package permission

import (
	"log/slog"

	"gantry/internal/actor"
	"gantry/pkg/domainerrors"
)

// CrossTenant is the capability a system actor must additionally hold to
// escape tenant scoping on a procedure that allows it.
const CrossTenant = "system.cross_tenant"

// Gate validates a required permission against an actor.
type Gate struct {
	registry *Registry
	logger   *slog.Logger
}

func NewGate(registry *Registry, logger *slog.Logger) *Gate {
	return &Gate{registry: registry, logger: logger}
}

// Check returns nil when the actor holds perm and its full prerequisite
// closure. System actors bypass the check; the bypass is logged here and the
// caller records it in audit metadata.
func (g *Gate) Check(a actor.Actor, perm string) error {
	if a.System {
		g.logger.Info("permission gate bypassed by system actor",
			"actor_id", a.ID.String(),
			"permission", perm,
		)
		return nil
	}

	for _, required := range g.registry.Required(perm) {
		if !a.Has(required) {
			return domainerrors.Newf(domainerrors.CodeForbidden, "missing permission %q", required)
		}
	}
	return nil
}
