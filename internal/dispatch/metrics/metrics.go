// Package metrics provides observability for the dispatch module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks procedure outcomes, cache effectiveness, side-effect stage
// failures, and committed business mutations.
type Metrics struct {
	ProcedureDuration  *prometheus.HistogramVec
	ProceduresTotal    *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	SideEffectFailures *prometheus.CounterVec
	Mutations          *prometheus.CounterVec
}

// New registers all dispatch metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on a specific registerer so tests can isolate metrics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProcedureDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gantry_procedure_duration_seconds",
			Help:    "Duration of procedure invocations by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"procedure", "outcome"}),
		ProceduresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_procedures_total",
			Help: "Total procedure invocations by outcome",
		}, []string{"procedure", "outcome"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "gantry_cache_hits_total",
			Help: "Query results served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "gantry_cache_misses_total",
			Help: "Cached queries that executed their handler",
		}),
		SideEffectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_side_effect_failures_total",
			Help: "Side-effect pipeline stage failures (mutation already committed)",
		}, []string{"stage"}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_mutations_total",
			Help: "Committed mutations by entity type and action",
		}, []string{"entity_type", "action"}),
	}
}

// ObserveProcedure records one invocation's duration and outcome.
func (m *Metrics) ObserveProcedure(procedure, outcome string, start time.Time) {
	elapsed := time.Since(start).Seconds()
	m.ProcedureDuration.WithLabelValues(procedure, outcome).Observe(elapsed)
	m.ProceduresTotal.WithLabelValues(procedure, outcome).Inc()
}
