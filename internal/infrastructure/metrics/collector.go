package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/pkg/cache"
)

// Collector collects and aggregates metrics in process.
type Collector struct {
	// Migration metrics
	migrations sync.Map // map[string]*uint64 - schema/outcome/reason -> count
	duration   sync.Map // map[string]*durationValue - schema -> total item duration in seconds

	// Schema publish metrics
	publishes sync.Map // map[string]*uint64 - schema -> count
	skipped   sync.Map // map[string]*uint64 - schema -> skipped changes

	// Snapshot cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache[*entities.Schema]
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// MigrationKey identifies one migration counter
type MigrationKey struct {
	Schema  string
	Outcome string
	Reason  string
}

// MigrationMetrics holds migrated item metrics.
type MigrationMetrics struct {
	Counts               map[MigrationKey]uint64
	TotalDurationSeconds map[string]float64
	Publishes            map[string]uint64
	SkippedChanges       map[string]uint64
}

// sizedCache is implemented by caches that report their occupancy
type sizedCache interface {
	Len() int
	Size() int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the snapshot cache for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache[*entities.Schema]) {
	c.cache = cache
}

// RecordMigration records one migrated or failed item.
func (c *Collector) RecordMigration(schema, outcome, reason string, durationSeconds float64) {
	counter := getOrCreateCounter(&c.migrations, MigrationKey{Schema: schema, Outcome: outcome, Reason: reason})
	atomic.AddUint64(counter, 1)

	val, _ := c.duration.LoadOrStore(schema, &durationValue{})
	dv := val.(*durationValue)
	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordSchemaPublish records a published schema version.
func (c *Collector) RecordSchemaPublish(schema string, skippedChanges int) {
	atomic.AddUint64(getOrCreateCounter(&c.publishes, schema), 1)
	atomic.AddUint64(getOrCreateCounter(&c.skipped, schema), uint64(skippedChanges))
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	if sized, ok := c.cache.(sizedCache); ok {
		result.KeysCurrent = int64(sized.Len())
		result.MemoryBytes = sized.Size()
	}

	return result
}

// GetMigrationMetrics returns current migration metrics.
func (c *Collector) GetMigrationMetrics() *MigrationMetrics {
	result := &MigrationMetrics{
		Counts:               make(map[MigrationKey]uint64),
		TotalDurationSeconds: make(map[string]float64),
		Publishes:            make(map[string]uint64),
		SkippedChanges:       make(map[string]uint64),
	}

	c.migrations.Range(func(key, value any) bool {
		result.Counts[key.(MigrationKey)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.duration.Range(func(key, value any) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	c.publishes.Range(func(key, value any) bool {
		result.Publishes[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.skipped.Range(func(key, value any) bool {
		result.SkippedChanges[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func getOrCreateCounter(m *sync.Map, key any) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
