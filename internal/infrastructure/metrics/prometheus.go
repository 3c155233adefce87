package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	migrations       *prometheus.CounterVec
	itemDuration     *prometheus.HistogramVec
	publishes        *prometheus.CounterVec
	skippedChanges   *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter registering its
// metrics on reg. A nil reg uses the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fieldshift_schema_cache_hit_rate",
			Help: "Current schema snapshot cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fieldshift_schema_cache_keys_current",
			Help: "Current number of keys in the schema snapshot cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fieldshift_schema_cache_memory_bytes",
			Help: "Current memory usage of the schema snapshot cache in bytes",
		}),
		migrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldshift_migrated_items_total",
				Help: "Total number of field containers processed by migrations",
			},
			[]string{"schema", "outcome", "reason"},
		),
		itemDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldshift_migration_item_duration_seconds",
				Help:    "Duration of migrating one field container in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"schema"},
		),
		publishes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldshift_schema_publishes_total",
				Help: "Total number of published schema versions",
			},
			[]string{"schema"},
		),
		skippedChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldshift_schema_skipped_changes_total",
				Help: "Total number of changes skipped while publishing schema versions",
			},
			[]string{"schema"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordMigration records one migrated or failed item.
func (e *PrometheusExporter) RecordMigration(schema, outcome, reason string, durationSeconds float64) {
	e.migrations.WithLabelValues(schema, outcome, reason).Inc()
	e.itemDuration.WithLabelValues(schema).Observe(durationSeconds)
}

// RecordSchemaPublish records a published schema version.
func (e *PrometheusExporter) RecordSchemaPublish(schema string, skippedChanges int) {
	e.publishes.WithLabelValues(schema).Inc()
	e.skippedChanges.WithLabelValues(schema).Add(float64(skippedChanges))
}
