package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures process-level configuration so main stays lean. Everything
// is environment-driven; defaults suit local development only.
type Config struct {
	Addr  string `env:"GANTRY_ADDR" envDefault:":8080"`
	Debug bool   `env:"GANTRY_DEBUG" envDefault:"false"`

	// JWTSigningKey must be overridden in production.
	JWTSigningKey string `env:"GANTRY_JWT_SIGNING_KEY" envDefault:"dev-secret-change-in-production"`
	JWTIssuer     string `env:"GANTRY_JWT_ISSUER" envDefault:"gantry"`

	// DatabaseURL selects the postgres engine; empty runs fully in memory.
	DatabaseURL string `env:"GANTRY_DATABASE_URL"`
	// RedisURL selects the redis cache; empty runs the in-process cache.
	RedisURL string `env:"GANTRY_REDIS_URL"`
	// KafkaSeeds selects the kafka event publisher; empty logs events only.
	KafkaSeeds []string `env:"GANTRY_KAFKA_SEEDS" envSeparator:","`

	// EventsMode is "direct" (publish inline from the pipeline) or "outbox"
	// (enqueue durably, drain in the background).
	EventsMode      string        `env:"GANTRY_EVENTS_MODE" envDefault:"direct"`
	OutboxInterval  time.Duration `env:"GANTRY_OUTBOX_INTERVAL" envDefault:"2s"`
	OutboxBatchSize int           `env:"GANTRY_OUTBOX_BATCH" envDefault:"50"`

	DefaultPageSize int           `env:"GANTRY_DEFAULT_PAGE_SIZE" envDefault:"25"`
	MaxPageSize     int           `env:"GANTRY_MAX_PAGE_SIZE" envDefault:"100"`
	DefaultCacheTTL time.Duration `env:"GANTRY_DEFAULT_CACHE_TTL" envDefault:"60s"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.EventsMode != "direct" && cfg.EventsMode != "outbox" {
		return Config{}, fmt.Errorf("invalid GANTRY_EVENTS_MODE %q", cfg.EventsMode)
	}
	return cfg, nil
}
