// Package dispatch is the central control flow: it takes a procedure name,
// raw input, and credential, and drives validation, authorization, tenant
// scoping, handler execution, caching, and the post-commit side-effect
// pipeline.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gantry/internal/actor"
	"gantry/internal/cache"
	dismetrics "gantry/internal/dispatch/metrics"
	"gantry/internal/permission"
	"gantry/internal/procedure"
	"gantry/internal/repository"
	"gantry/internal/storage"
	"gantry/pkg/domainerrors"
	"gantry/pkg/platform/sentinel"
	"gantry/pkg/requestcontext"
)

const tracerName = "gantry/dispatch"

// Dispatcher executes registered procedures. Stateless per invocation; safe
// for concurrent use.
type Dispatcher struct {
	registry   *procedure.Registry
	resolver   *actor.Resolver
	gate       *permission.Gate
	engine     storage.Engine
	cache      cache.Cache
	pipeline   *Pipeline
	metrics    *dismetrics.Metrics
	logger     *slog.Logger
	repoPolicy repository.Policy
	tracer     trace.Tracer
}

func New(
	registry *procedure.Registry,
	resolver *actor.Resolver,
	gate *permission.Gate,
	engine storage.Engine,
	c cache.Cache,
	pipeline *Pipeline,
	m *dismetrics.Metrics,
	logger *slog.Logger,
	repoPolicy repository.Policy,
) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		resolver:   resolver,
		gate:       gate,
		engine:     engine,
		cache:      c,
		pipeline:   pipeline,
		metrics:    m,
		logger:     logger,
		repoPolicy: repoPolicy,
		tracer:     otel.Tracer(tracerName),
	}
}

// Dispatch runs one invocation end to end. The returned value is the
// handler's result; for cached queries it is the canonical JSON encoding so
// repeated cached reads are bit-identical.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawInput json.RawMessage, credential string) (any, error) {
	start := time.Now()
	outcome := "completed"
	defer func() {
		d.metrics.ObserveProcedure(name, outcome, start)
	}()

	proc, ok := d.registry.Lookup(name)
	if !ok {
		outcome = "unknown_procedure"
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "unknown procedure %q", name)
	}

	// Received -> Validated.
	input, err := proc.ValidateInput(rawInput)
	if err != nil {
		outcome = "validation_failed"
		return nil, err
	}

	// Validated -> Authorized: authenticate, then gate.
	act, err := d.resolver.Resolve(ctx, credential)
	if err != nil {
		outcome = "unauthenticated"
		return nil, err
	}
	if proc.RequiredPermission != "" {
		if err := d.gate.Check(act, proc.RequiredPermission); err != nil {
			outcome = "permission_denied"
			return nil, err
		}
	}

	scope, crossTenant, err := d.resolveScope(proc, act)
	if err != nil {
		outcome = "permission_denied"
		return nil, err
	}

	sc := procedure.ServiceContext{
		TenantID:  scope.TenantID,
		ActorID:   act.ID,
		RequestID: requestcontext.RequestID(ctx),
	}

	// Cached query read path.
	var cacheKey string
	if proc.Kind == procedure.KindQuery && proc.Cache != nil {
		cacheKey = d.cacheKey(proc, input, sc)
		if value, hit, err := d.cache.Get(ctx, cacheKey); err == nil && hit {
			d.metrics.CacheHits.Inc()
			outcome = "cache_hit"
			return json.RawMessage(value), nil
		}
		d.metrics.CacheMisses.Inc()
	}

	// Authorized -> Executing.
	ctx, span := d.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("procedure", name),
		attribute.String("kind", string(proc.Kind)),
		attribute.String("tenant_id", sc.TenantID.String()),
	))
	inv := &procedure.Invocation{
		Service: sc,
		Repo:    repository.New(d.engine, proc.EntityType, scope, d.repoPolicy),
		Actor:   act,
	}
	result, err := proc.Handler(ctx, input, inv)
	span.End()

	// Executing -> Succeeded | Failed.
	if err != nil {
		outcome = "failed"
		err = classify(err)
		d.logger.Error("procedure failed",
			"procedure", name,
			"tenant_id", sc.TenantID.String(),
			"request_id", sc.RequestID,
			"error", err,
		)
		return nil, err
	}
	if result == nil {
		result = &procedure.Result{}
	}

	// Succeeded -> SideEffects -> Completed for committed mutations; a nil
	// mutation (e.g. update of an absent id) succeeds with zero effects.
	if proc.Kind == procedure.KindMutation && result.Mutation != nil {
		d.pipeline.Run(ctx, &Effect{
			Procedure:        name,
			EntityType:       proc.EntityType,
			Mutation:         result.Mutation,
			Service:          sc,
			InvalidationTags: proc.InvalidationTags,
			CrossTenant:      crossTenant,
		})
	}

	// Query results are stored after the handler returns; the small window
	// against a concurrent write's invalidation is accepted as eventual
	// consistency bounded by TTL.
	if cacheKey != "" {
		encoded, err := json.Marshal(result.Value)
		if err == nil {
			tags := make([]string, 0, len(proc.Cache.Tags))
			for _, tag := range proc.Cache.Tags {
				tags = append(tags, cache.TenantTag(tag, sc.TenantID))
			}
			if err := d.cache.Set(ctx, cacheKey, encoded, proc.Cache.TTL, tags); err != nil {
				d.logger.Warn("cache set failed", "procedure", name, "error", err)
			}
			return json.RawMessage(encoded), nil
		}
	}

	return result.Value, nil
}

// resolveScope binds the invocation to the actor's tenant, or to all tenants
// for a system actor that holds the cross-tenant capability on a procedure
// declaring it.
func (d *Dispatcher) resolveScope(proc *procedure.Procedure, act actor.Actor) (storage.Scope, bool, error) {
	if proc.CrossTenant && act.System && act.Has(permission.CrossTenant) {
		return storage.Scope{AllTenants: true}, true, nil
	}
	if act.TenantID.IsNil() {
		return storage.Scope{}, false, domainerrors.New(domainerrors.CodeForbidden, "procedure requires a tenant-scoped actor")
	}
	return storage.Scope{TenantID: act.TenantID}, false, nil
}

func (d *Dispatcher) cacheKey(proc *procedure.Procedure, input map[string]any, sc procedure.ServiceContext) string {
	if proc.Cache.Key != nil {
		return proc.Cache.Key(input, sc)
	}
	return cache.RequestKey(proc.Name, sc.TenantID, input)
}

// classify translates handler and infrastructure errors into the
// caller-facing taxonomy. Already-coded errors pass through.
func classify(err error) error {
	var coded *domainerrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domainerrors.Wrap(err, domainerrors.CodeTimeout, "downstream timeout")
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.Wrap(err, domainerrors.CodeNotFound, "entity not found")
	case errors.Is(err, sentinel.ErrConflict):
		return domainerrors.Wrap(err, domainerrors.CodeConflict, "conflicting write")
	case errors.Is(err, sentinel.ErrUnavailable):
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "downstream unavailable")
	}
	return domainerrors.Wrap(err, domainerrors.CodeInternal, "procedure execution failed")
}
