package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"gantry/internal/audit"
	"gantry/internal/cache"
	dismetrics "gantry/internal/dispatch/metrics"
	"gantry/internal/dispatch/mocks"
	"gantry/internal/events"
	"gantry/internal/procedure"
	"gantry/internal/repository"
	"gantry/internal/storage"
	"gantry/pkg/domain"
)

type PipelineSuite struct {
	suite.Suite
	auditStore *audit.InMemory
	publisher  *events.InMemory
	cache      *cache.Memory
	metrics    *dismetrics.Metrics
	pipeline   *Pipeline
	tenantID   domain.TenantID
	actorID    domain.ActorID
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.auditStore = audit.NewInMemory()
	s.publisher = events.NewInMemory()
	s.cache = cache.NewMemory()
	s.metrics = dismetrics.NewWith(prometheus.NewRegistry())
	s.pipeline = NewPipeline(
		audit.NewRecorder(s.auditStore),
		s.publisher,
		s.cache,
		s.metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	s.tenantID = domain.TenantID(uuid.New())
	s.actorID = domain.ActorID(uuid.New())
}

func (s *PipelineSuite) entity(id string, fields map[string]any) *storage.Entity {
	return &storage.Entity{ID: id, TenantID: s.tenantID, Type: "item", Fields: fields}
}

func (s *PipelineSuite) effect(m *repository.Mutation) *Effect {
	return &Effect{
		Procedure:  "item.write",
		EntityType: "item",
		Mutation:   m,
		Service: procedure.ServiceContext{
			TenantID:  s.tenantID,
			ActorID:   s.actorID,
			RequestID: "req-1",
		},
		InvalidationTags: []string{"items"},
	}
}

func (s *PipelineSuite) TestRun() {
	s.Run("nil mutation produces no effects", func() {
		s.pipeline.Run(context.Background(), s.effect(nil))
		s.Empty(s.auditStore.All())
		s.Empty(s.publisher.All())
	})

	s.Run("create emits audit entry and snapshot event", func() {
		after := s.entity("item-1", map[string]any{"name": "Acme"})
		s.pipeline.Run(context.Background(), s.effect(&repository.Mutation{
			Action: domain.ActionCreate,
			After:  after,
		}))

		entries := s.auditStore.All()
		s.Require().Len(entries, 1)
		s.Equal(domain.ActionCreate, entries[0].Action)
		s.Equal("item-1", entries[0].EntityID)
		s.Equal(s.actorID, entries[0].ActorID)
		s.Equal("item.write", entries[0].Metadata["procedure"])
		s.Equal("req-1", entries[0].Metadata["request_id"])
		s.Empty(entries[0].Changes)

		published := s.publisher.All()
		s.Require().Len(published, 1)
		s.Equal("item.created", published[0].Topic)
		s.Equal(map[string]any{"name": "Acme"}, published[0].Snapshot)
		s.Empty(published[0].Changes)
	})

	s.Run("update carries the change set restricted to the patch", func() {
		before := s.entity("item-2", map[string]any{"name": "Acme", "tier": "gold"})
		after := s.entity("item-2", map[string]any{"name": "Acme Inc", "tier": "gold"})
		s.pipeline.Run(context.Background(), s.effect(&repository.Mutation{
			Action: domain.ActionUpdate,
			Before: before,
			After:  after,
			Patch:  map[string]any{"name": "Acme Inc"},
		}))

		entry := s.lastEntry()
		s.Require().Len(entry.Changes, 1)
		s.Equal("name", entry.Changes[0].Field)
		s.Equal("Acme", entry.Changes[0].Old)
		s.Equal("Acme Inc", entry.Changes[0].New)

		event := s.lastEvent()
		s.Equal("item.updated", event.Topic)
		s.Nil(event.Snapshot)
		s.Equal(entry.Changes, event.Changes)
	})

	s.Run("unchanged patched field produces empty change set", func() {
		before := s.entity("item-3", map[string]any{"name": "Acme"})
		after := s.entity("item-3", map[string]any{"name": "Acme"})
		s.pipeline.Run(context.Background(), s.effect(&repository.Mutation{
			Action: domain.ActionUpdate,
			Before: before,
			After:  after,
			Patch:  map[string]any{"name": "Acme"},
		}))

		s.Empty(s.lastEntry().Changes)
	})

	s.Run("delete emits final snapshot and old-to-nil changes", func() {
		before := s.entity("item-4", map[string]any{"name": "Acme"})
		s.pipeline.Run(context.Background(), s.effect(&repository.Mutation{
			Action: domain.ActionDelete,
			Before: before,
		}))

		event := s.lastEvent()
		s.Equal("item.deleted", event.Topic)
		s.Equal(map[string]any{"name": "Acme"}, event.Snapshot)

		entry := s.lastEntry()
		s.Require().Len(entry.Changes, 1)
		s.Equal("Acme", entry.Changes[0].Old)
		s.Nil(entry.Changes[0].New)
	})

	s.Run("cross-tenant bypass is recorded in audit metadata", func() {
		eff := s.effect(&repository.Mutation{
			Action: domain.ActionCreate,
			After:  s.entity("item-5", map[string]any{"name": "Globex"}),
		})
		eff.CrossTenant = true
		s.pipeline.Run(context.Background(), eff)

		s.Equal("true", s.lastEntry().Metadata["cross_tenant_bypass"])
	})

	s.Run("cancelled context does not abort the pipeline", func() {
		audits, published := len(s.auditStore.All()), len(s.publisher.All())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s.pipeline.Run(ctx, s.effect(&repository.Mutation{
			Action: domain.ActionCreate,
			After:  s.entity("item-6", map[string]any{"name": "Initech"}),
		}))

		s.Len(s.auditStore.All(), audits+1)
		s.Len(s.publisher.All(), published+1)
	})
}

func (s *PipelineSuite) lastEntry() audit.Entry {
	entries := s.auditStore.All()
	s.Require().NotEmpty(entries)
	return entries[len(entries)-1]
}

func (s *PipelineSuite) lastEvent() events.Event {
	published := s.publisher.All()
	s.Require().NotEmpty(published)
	return published[len(published)-1]
}

func (s *PipelineSuite) TestCacheInvalidation() {
	ctx := context.Background()
	key := cache.EntityKey("item", s.tenantID, "item-1")
	tag := cache.TenantTag("items", s.tenantID)
	otherTenant := domain.TenantID(uuid.New())
	otherTag := cache.TenantTag("items", otherTenant)

	s.Require().NoError(s.cache.Set(ctx, key, []byte(`{"name":"Acme"}`), time.Minute, nil))
	s.Require().NoError(s.cache.Set(ctx, "item.list:"+s.tenantID.String()+":aa", []byte(`[]`), time.Minute, []string{tag}))
	s.Require().NoError(s.cache.Set(ctx, "item.list:"+otherTenant.String()+":bb", []byte(`[]`), time.Minute, []string{otherTag}))

	s.pipeline.Run(ctx, s.effect(&repository.Mutation{
		Action: domain.ActionUpdate,
		Before: s.entity("item-1", map[string]any{"name": "Acme"}),
		After:  s.entity("item-1", map[string]any{"name": "Acme Inc"}),
		Patch:  map[string]any{"name": "Acme Inc"},
	}))

	_, hit, err := s.cache.Get(ctx, key)
	s.NoError(err)
	s.False(hit, "entity key should be torn down")

	_, hit, err = s.cache.Get(ctx, "item.list:"+s.tenantID.String()+":aa")
	s.NoError(err)
	s.False(hit, "tenant-scoped tag should be torn down")

	_, hit, err = s.cache.Get(ctx, "item.list:"+otherTenant.String()+":bb")
	s.NoError(err)
	s.True(hit, "other tenant's cache should survive a tenant-scoped mutation")
}

func (s *PipelineSuite) TestCrossTenantInvalidation() {
	ctx := context.Background()
	otherTenant := domain.TenantID(uuid.New())
	s.Require().NoError(s.cache.Set(ctx, "list-a", []byte(`[]`), time.Minute, []string{cache.TenantTag("items", s.tenantID)}))
	s.Require().NoError(s.cache.Set(ctx, "list-b", []byte(`[]`), time.Minute, []string{cache.TenantTag("items", otherTenant)}))

	eff := s.effect(&repository.Mutation{
		Action: domain.ActionCreate,
		After:  s.entity("item-9", map[string]any{"name": "Acme"}),
	})
	eff.CrossTenant = true
	s.pipeline.Run(ctx, eff)

	_, hit, _ := s.cache.Get(ctx, "list-a")
	s.False(hit)
	_, hit, _ = s.cache.Get(ctx, "list-b")
	s.False(hit, "cross-tenant mutation tears down every tenant's tag variant")
}

type PipelineIsolationSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	auditStore *mocks.MockStore
	publisher  *mocks.MockPublisher
	cache      *cache.Memory
	pipeline   *Pipeline
}

func TestPipelineIsolationSuite(t *testing.T) {
	suite.Run(t, new(PipelineIsolationSuite))
}

func (s *PipelineIsolationSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.auditStore = mocks.NewMockStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.cache = cache.NewMemory()
	s.pipeline = NewPipeline(
		audit.NewRecorder(s.auditStore),
		s.publisher,
		s.cache,
		dismetrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func (s *PipelineIsolationSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *PipelineIsolationSuite) TestStageFailureDoesNotBlockLaterStages() {
	tenantID := domain.TenantID(uuid.New())
	ctx := context.Background()
	key := cache.EntityKey("item", tenantID, "item-1")
	s.Require().NoError(s.cache.Set(ctx, key, []byte(`{}`), time.Minute, nil))

	s.auditStore.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("audit sink down"))
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	s.pipeline.Run(ctx, &Effect{
		Procedure:  "item.update",
		EntityType: "item",
		Mutation: &repository.Mutation{
			Action: domain.ActionUpdate,
			Before: &storage.Entity{ID: "item-1", TenantID: tenantID, Type: "item", Fields: map[string]any{"name": "a"}},
			After:  &storage.Entity{ID: "item-1", TenantID: tenantID, Type: "item", Fields: map[string]any{"name": "b"}},
			Patch:  map[string]any{"name": "b"},
		},
		Service: procedure.ServiceContext{TenantID: tenantID, ActorID: domain.ActorID(uuid.New())},
	})

	// Event published and cache invalidated despite the audit failure.
	_, hit, err := s.cache.Get(ctx, key)
	s.NoError(err)
	s.False(hit)
}

func (s *PipelineIsolationSuite) TestPublishFailureDoesNotBlockInvalidation() {
	tenantID := domain.TenantID(uuid.New())
	ctx := context.Background()
	tag := cache.TenantTag("items", tenantID)
	s.Require().NoError(s.cache.Set(ctx, "list", []byte(`[]`), time.Minute, []string{tag}))

	s.auditStore.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker unavailable"))

	s.pipeline.Run(ctx, &Effect{
		Procedure:  "item.create",
		EntityType: "item",
		Mutation: &repository.Mutation{
			Action: domain.ActionCreate,
			After:  &storage.Entity{ID: "item-2", TenantID: tenantID, Type: "item", Fields: map[string]any{}},
		},
		Service:          procedure.ServiceContext{TenantID: tenantID, ActorID: domain.ActorID(uuid.New())},
		InvalidationTags: []string{"items"},
	})

	_, hit, err := s.cache.Get(ctx, "list")
	s.NoError(err)
	s.False(hit)
}
