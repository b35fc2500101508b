// Package audit records the append-only change trail for committed
// mutations. Entries are emitted from the side-effect pipeline and never
// updated after write.
package audit

import (
	"context"
	"time"

	"gantry/pkg/domain"
)

// Entry is one committed mutation's audit record.
type Entry struct {
	ID         string            `json:"id"`
	Action     domain.Action     `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	ActorID    domain.ActorID    `json:"actor_id"`
	TenantID   domain.TenantID   `json:"tenant_id"`
	Changes    domain.ChangeSet  `json:"changes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Store is append-only. The read side beyond ListByEntity is out of scope;
// it exists so stores are testable and operators can trace one entity.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
}
