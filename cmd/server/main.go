package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"gantry/internal/actor"
	"gantry/internal/audit"
	"gantry/internal/cache"
	"gantry/internal/dispatch"
	dismetrics "gantry/internal/dispatch/metrics"
	"gantry/internal/events"
	"gantry/internal/permission"
	"gantry/internal/platform/config"
	"gantry/internal/platform/httpserver"
	"gantry/internal/platform/kafka"
	"gantry/internal/platform/logger"
	platformredis "gantry/internal/platform/redis"
	"gantry/internal/procedure"
	"gantry/internal/repository"
	"gantry/internal/storage"
	"gantry/internal/tenant"
	httptransport "gantry/internal/transport/http"
	"gantry/pkg/domain"
)

// main wires the process: config, stores, cache, event transport, the
// procedure registry, and the HTTP surface. Business logic lives in the
// procedure definitions and internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: postgres when configured, in-memory otherwise.
	var (
		engine      storage.Engine
		tenantStore tenant.Store
		auditStore  audit.Store
		db          *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := storage.NewPostgres(db)
		tenantsPG := tenant.NewPostgres(db)
		auditPG := audit.NewPostgres(db)
		for _, ensure := range []func(context.Context) error{
			pg.EnsureSchema, tenantsPG.EnsureSchema, auditPG.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				log.Error("ensure schema", "error", err)
				os.Exit(1)
			}
		}
		if err := pg.EnsureUniqueField(ctx, "item", "name"); err != nil {
			log.Error("ensure unique index", "error", err)
			os.Exit(1)
		}
		engine, tenantStore, auditStore = pg, tenantsPG, auditPG
		log.Info("storage engine ready", "engine", "postgres")
	} else {
		engine = storage.NewMemory(map[string][]string{"item": {"name"}})
		tenantStore = tenant.NewInMemory()
		auditStore = audit.NewInMemory()
		log.Info("storage engine ready", "engine", "memory")
	}

	// Cache: redis when configured, in-process otherwise.
	var c cache.Cache = cache.NewMemory()
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		c = cache.NewRedis(redisClient.Client)
		log.Info("cache ready", "backend", "redis")
	} else {
		log.Info("cache ready", "backend", "memory")
	}

	registry := procedure.NewRegistry(log)
	if err := registerItemProcedures(registry, cfg); err != nil {
		log.Error("register procedures", "error", err)
		os.Exit(1)
	}

	// Events: kafka when seeds are configured, structured log otherwise.
	var sink events.Publisher = events.NewLogPublisher(log)
	if len(cfg.KafkaSeeds) > 0 {
		kafkaClient, err := kafka.New(ctx, cfg.KafkaSeeds)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		if err := kafka.EnsureTopics(ctx, kafkaClient, eventTopics(registry)); err != nil {
			log.Error("ensure topics", "error", err)
			os.Exit(1)
		}
		sink = events.NewKafka(kafkaClient)
		log.Info("event publisher ready", "backend", "kafka", "seeds", cfg.KafkaSeeds)
	} else {
		log.Info("event publisher ready", "backend", "log")
	}

	// In outbox mode the pipeline enqueues durably and a background
	// dispatcher drains to the sink.
	publisher := sink
	var outboxDispatcher *events.OutboxDispatcher
	if cfg.EventsMode == "outbox" {
		var outbox events.OutboxStore
		if db != nil {
			pgOutbox := events.NewPostgresOutbox(db)
			if err := pgOutbox.EnsureSchema(ctx); err != nil {
				log.Error("ensure outbox schema", "error", err)
				os.Exit(1)
			}
			outbox = pgOutbox
		} else {
			outbox = events.NewInMemoryOutbox()
		}
		publisher = events.NewOutboxPublisher(outbox)
		outboxDispatcher = events.NewOutboxDispatcher(outbox, sink, log, cfg.OutboxInterval, cfg.OutboxBatchSize)
		outboxDispatcher.Start(ctx)
		log.Info("outbox dispatcher started", "interval", cfg.OutboxInterval, "batch", cfg.OutboxBatchSize)
	}

	permRegistry, err := permission.NewRegistry(permission.Graph{
		"item.create": {"item.read"},
		"item.update": {"item.read"},
		"item.delete": {"item.update"},
	})
	if err != nil {
		log.Error("build permission registry", "error", err)
		os.Exit(1)
	}

	metrics := dismetrics.New()
	dispatcher := dispatch.New(
		registry,
		actor.NewResolver(cfg.JWTSigningKey, cfg.JWTIssuer, tenantStore),
		permission.NewGate(permRegistry, log),
		engine,
		c,
		dispatch.NewPipeline(audit.NewRecorder(auditStore), publisher, c, metrics, log),
		metrics,
		log,
		repository.Policy{DefaultPageSize: cfg.DefaultPageSize, MaxPageSize: cfg.MaxPageSize},
	)

	if cfg.DatabaseURL == "" {
		seedDevTenant(ctx, cfg, tenantStore, log)
	}

	handler := httptransport.NewHandler(dispatcher, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gantry", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if outboxDispatcher != nil {
			if err := outboxDispatcher.Close(); err != nil {
				log.Warn("outbox dispatcher close", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// eventTopics lists every topic the registered procedures can emit on, so
// they exist before the first publish.
func eventTopics(registry *procedure.Registry) []string {
	var topics []string
	for _, entityType := range registry.EntityTypes() {
		for _, action := range []domain.Action{domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete} {
			topics = append(topics, events.Topic(entityType, action))
		}
	}
	return topics
}

// seedDevTenant creates a throwaway tenant and logs a credential for it.
// Memory mode only; every restart starts clean.
func seedDevTenant(ctx context.Context, cfg config.Config, store tenant.Store, log *slog.Logger) {
	t, err := tenant.New(domain.TenantID(uuid.New()), "dev", time.Now().UTC())
	if err != nil {
		log.Warn("seed dev tenant", "error", err)
		return
	}
	if err := store.Create(ctx, t); err != nil {
		log.Warn("seed dev tenant", "error", err)
		return
	}

	issuer := actor.NewIssuer(cfg.JWTSigningKey, cfg.JWTIssuer)
	token, err := issuer.Token(domain.ActorID(uuid.New()), t.ID,
		[]string{"item.read", "item.create", "item.update", "item.delete"}, false, 24*time.Hour)
	if err != nil {
		log.Warn("mint dev token", "error", err)
		return
	}
	log.Info("dev tenant seeded", "tenant_id", t.ID.String(), "token", token)
}
