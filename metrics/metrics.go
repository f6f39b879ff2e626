// Package metrics exposes Prometheus counters and gauges for topic
// traffic, catch-up latches, migrator replication, and read-model
// ingestion. Grounded on internal/observability/metrics.go's promauto/
// CounterVec/HistogramVec idiom and bucket presets from the teacher, but
// scoped to this framework's own domain rather than the teacher's
// ingestion/processing/storage/query metric names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets mirrors the teacher's sub-millisecond-to-multi-second
// histogram bucket preset for request-shaped latencies.
var latencyBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics groups every collector this framework registers. Construct one
// with New and share it across producers, consumers, migrators, and read
// models.
type Metrics struct {
	EventsProduced   *prometheus.CounterVec
	EventsConsumed   *prometheus.CounterVec
	ConsumeErrors    *prometheus.CounterVec
	CatchUpLatched   *prometheus.GaugeVec
	MigratorReplayed *prometheus.CounterVec
	MigratorErrors   *prometheus.CounterVec
	IngestionEvents  *prometheus.CounterVec
	IngestionLatency *prometheus.HistogramVec
	NamespaceCaughtUp *prometheus.GaugeVec
}

// New registers every collector against reg and returns the bundle. Pass
// prometheus.DefaultRegisterer to use the global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sequent_events_produced_total",
			Help: "Total events produced, labeled by topic.",
		}, []string{"topic"}),
		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sequent_events_consumed_total",
			Help: "Total events consumed, labeled by topic and consumer group.",
		}, []string{"topic", "group"}),
		ConsumeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sequent_consume_errors_total",
			Help: "Total consume errors, labeled by topic and consumer group.",
		}, []string{"topic", "group"}),
		CatchUpLatched: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sequent_catch_up_latched",
			Help: "1 if the consumer group has latched caught-up, 0 otherwise.",
		}, []string{"topic", "group"}),
		MigratorReplayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sequent_migrator_replicated_total",
			Help: "Total events replicated by a migrator, labeled by destination event type.",
		}, []string{"event_type"}),
		MigratorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sequent_migrator_errors_total",
			Help: "Total migrator loop errors, labeled by destination event type.",
		}, []string{"event_type"}),
		IngestionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sequent_readmodel_ingested_total",
			Help: "Total events ingested into a read model, labeled by namespace and ingestor.",
		}, []string{"namespace", "ingestor"}),
		IngestionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sequent_readmodel_ingest_latency_seconds",
			Help:    "Time spent applying a single ingested event.",
			Buckets: latencyBuckets,
		}, []string{"namespace", "ingestor"}),
		NamespaceCaughtUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sequent_readmodel_caught_up",
			Help: "1 if every ingestor in the namespace has caught up, 0 otherwise.",
		}, []string{"namespace"}),
	}
}

// ObserveIngestLatency is a small helper around time.Since, grounded on the
// teacher's metrics helpers that wrap a start time into a histogram
// observation.
func (m *Metrics) ObserveIngestLatency(namespace, ingestor string, start time.Time) {
	m.IngestionLatency.WithLabelValues(namespace, ingestor).Observe(time.Since(start).Seconds())
}
