package metrics

// Recorder forwards measurements to the collector and, when set, the exporter.
// It satisfies the recorder interfaces of the migration runner and the schema service.
type Recorder struct {
	collector *Collector
	exporter  *PrometheusExporter
}

// NewRecorder creates a Recorder. exporter may be nil.
func NewRecorder(collector *Collector, exporter *PrometheusExporter) *Recorder {
	return &Recorder{collector: collector, exporter: exporter}
}

// RecordMigration records one migrated or failed item.
func (r *Recorder) RecordMigration(schema, outcome, reason string, durationSeconds float64) {
	r.collector.RecordMigration(schema, outcome, reason, durationSeconds)
	if r.exporter != nil {
		r.exporter.RecordMigration(schema, outcome, reason, durationSeconds)
	}
}

// RecordSchemaPublish records a published schema version.
func (r *Recorder) RecordSchemaPublish(schema string, skippedChanges int) {
	r.collector.RecordSchemaPublish(schema, skippedChanges)
	if r.exporter != nil {
		r.exporter.RecordSchemaPublish(schema, skippedChanges)
	}
}
