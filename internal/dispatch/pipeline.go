package dispatch

//go:generate mockgen -source=pipeline.go -destination=mocks/mocks.go -package=mocks Publisher,Store

import (
	"context"
	"fmt"
	"log/slog"

	"gantry/internal/audit"
	"gantry/internal/cache"
	dismetrics "gantry/internal/dispatch/metrics"
	"gantry/internal/events"
	"gantry/internal/procedure"
	"gantry/internal/repository"
	"gantry/pkg/domain"
	"gantry/pkg/requestcontext"
)

// Effect is the shared state the side-effect stages operate on. Built by the
// dispatcher strictly after the mutation committed.
type Effect struct {
	Procedure        string
	EntityType       string
	Mutation         *repository.Mutation
	Service          procedure.ServiceContext
	InvalidationTags []string
	// CrossTenant marks a system actor's tenant-scope bypass; recorded in
	// audit metadata rather than silently allowed.
	CrossTenant bool

	// Changes is populated by the first stage and read by the rest.
	Changes domain.ChangeSet
}

// Stage is one failure-isolated step of the post-commit pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, eff *Effect) error
}

// Pipeline executes the fixed post-commit sequence: change-set computation,
// audit, event, cache invalidation, business metric. A stage failure is
// logged and counted but never blocks later stages or alters the
// caller-visible result; the committed write is the source of truth.
type Pipeline struct {
	stages  []Stage
	metrics *dismetrics.Metrics
	logger  *slog.Logger
}

func NewPipeline(recorder *audit.Recorder, publisher events.Publisher, c cache.Cache, m *dismetrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		stages: []Stage{
			changeSetStage{},
			auditStage{recorder: recorder},
			eventStage{publisher: publisher},
			cacheInvalidationStage{cache: c},
			metricStage{metrics: m},
		},
		metrics: m,
		logger:  logger,
	}
}

// Run executes every stage in order. Call only after the mutation durably
// committed; already-scheduled effects run to completion even if the caller
// abandoned the request, so a cancelled context is replaced.
func (p *Pipeline) Run(ctx context.Context, eff *Effect) {
	if eff.Mutation == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = requestcontext.WithRequestID(context.Background(), eff.Service.RequestID)
	}

	for _, stage := range p.stages {
		if err := p.runStage(ctx, stage, eff); err != nil {
			p.metrics.SideEffectFailures.WithLabelValues(stage.Name()).Inc()
			p.logger.Error("side-effect stage failed",
				"stage", stage.Name(),
				"procedure", eff.Procedure,
				"entity_type", eff.EntityType,
				"entity_id", eff.Mutation.Entity().ID,
				"tenant_id", eff.Service.TenantID.String(),
				"request_id", eff.Service.RequestID,
				"error", err,
			)
		}
	}
}

// runStage isolates panics as well as errors so one misbehaving stage cannot
// take down the request goroutine.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, eff *Effect) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return stage.Run(ctx, eff)
}

type changeSetStage struct{}

func (changeSetStage) Name() string { return "changeset" }

func (changeSetStage) Run(_ context.Context, eff *Effect) error {
	m := eff.Mutation
	switch m.Action {
	case domain.ActionUpdate:
		eff.Changes = domain.Diff(m.Before.Fields, m.After.Fields, m.Patch)
	case domain.ActionDelete:
		eff.Changes = domain.DiffAll(m.Before.Fields)
	default:
		// Creates have no pre-image; the event carries the full snapshot.
	}
	return nil
}

type auditStage struct {
	recorder *audit.Recorder
}

func (auditStage) Name() string { return "audit" }

func (s auditStage) Run(ctx context.Context, eff *Effect) error {
	metadata := map[string]string{
		"procedure": eff.Procedure,
	}
	if eff.Service.RequestID != "" {
		metadata["request_id"] = eff.Service.RequestID
	}
	if eff.CrossTenant {
		metadata["cross_tenant_bypass"] = "true"
	}

	entity := eff.Mutation.Entity()
	return s.recorder.Record(ctx, audit.Entry{
		Action:     eff.Mutation.Action,
		EntityType: eff.EntityType,
		EntityID:   entity.ID,
		ActorID:    eff.Service.ActorID,
		TenantID:   entity.TenantID,
		Changes:    eff.Changes,
		Metadata:   metadata,
	})
}

type eventStage struct {
	publisher events.Publisher
}

func (eventStage) Name() string { return "event" }

func (s eventStage) Run(ctx context.Context, eff *Effect) error {
	m := eff.Mutation
	entity := m.Entity()
	event := events.Event{
		Topic:      events.Topic(eff.EntityType, m.Action),
		EntityType: eff.EntityType,
		EntityID:   entity.ID,
		TenantID:   entity.TenantID,
		ActorID:    eff.Service.ActorID,
		Timestamp:  requestcontext.Now(ctx),
	}
	switch m.Action {
	case domain.ActionCreate:
		event.Snapshot = m.After.Fields
	case domain.ActionUpdate:
		event.Changes = eff.Changes
	case domain.ActionDelete:
		event.Snapshot = m.Before.Fields
	}
	return s.publisher.Publish(ctx, event)
}

type cacheInvalidationStage struct {
	cache cache.Cache
}

func (cacheInvalidationStage) Name() string { return "cache" }

func (s cacheInvalidationStage) Run(ctx context.Context, eff *Effect) error {
	entity := eff.Mutation.Entity()

	// Exact key first: a cached single-entity lookup dies with its entity.
	if err := s.cache.InvalidateKey(ctx, cache.EntityKey(eff.EntityType, entity.TenantID, entity.ID)); err != nil {
		return err
	}

	for _, tag := range eff.InvalidationTags {
		var err error
		if eff.CrossTenant {
			err = s.cache.InvalidateByTag(ctx, cache.TagPattern(tag))
		} else {
			err = s.cache.InvalidateByTag(ctx, cache.TenantTag(tag, entity.TenantID))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type metricStage struct {
	metrics *dismetrics.Metrics
}

func (metricStage) Name() string { return "metric" }

func (s metricStage) Run(_ context.Context, eff *Effect) error {
	s.metrics.Mutations.WithLabelValues(eff.EntityType, string(eff.Mutation.Action)).Inc()
	return nil
}
