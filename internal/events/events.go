// Package events emits domain events for committed mutations. Delivery
// guarantees belong to the transport; from the pipeline's perspective publish
// is fire-and-forget with local failure isolation.
package events

import (
	"context"
	"log/slog"
	"time"

	"gantry/pkg/domain"
)

// Event is one committed mutation's notification. Topic is
// "{entityType}.{created|updated|deleted}". Creates and deletes carry the
// full (respectively deleted) snapshot; updates carry the change set.
type Event struct {
	Topic      string           `json:"topic"`
	EntityType string           `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	TenantID   domain.TenantID  `json:"tenant_id"`
	ActorID    domain.ActorID   `json:"actor_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Snapshot   map[string]any   `json:"snapshot,omitempty"`
	Changes    domain.ChangeSet `json:"changes,omitempty"`
}

// Topic builds the event topic for an entity type and action.
func Topic(entityType string, action domain.Action) string {
	return entityType + "." + action.EventSuffix()
}

// Publisher is the narrow transport port.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("domain event",
		"topic", event.Topic,
		"entity_id", event.EntityID,
		"tenant_id", event.TenantID.String(),
	)
	return nil
}
