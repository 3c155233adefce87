// Package app wires the store, the services and the migration runner from configuration.
package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/infrastructure/database"
	"github.com/asakaida/fieldshift/internal/infrastructure/metrics"
	"github.com/asakaida/fieldshift/internal/repositories"
	"github.com/asakaida/fieldshift/internal/repositories/postgres"
	"github.com/asakaida/fieldshift/internal/repositories/sqlite"
	"github.com/asakaida/fieldshift/internal/services"
	"github.com/asakaida/fieldshift/internal/services/migration"
	"github.com/asakaida/fieldshift/internal/services/sandbox"
	"github.com/asakaida/fieldshift/pkg/cache"
	"github.com/asakaida/fieldshift/pkg/cache/memorycache"
)

// App holds the wired components of a fieldshift process
type App struct {
	Config *config.Config
	Logger *log.Logger

	DB         database.Database
	Schemas    repositories.SchemaRepository
	Containers repositories.ContainerRepository

	Snapshots     cache.Cache[*entities.Schema]
	SchemaService *services.SchemaService
	Scripts       *sandbox.Engine
	Engine        *migration.Engine
	Runner        *migration.Runner

	Collector *metrics.Collector
	Exporter  *metrics.PrometheusExporter
}

// New opens the database, applies its migrations and wires every component.
// Metrics are registered on reg; a nil reg uses the default registerer.
func New(cfg *config.Config, reg prometheus.Registerer, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a, err := Wire(cfg, db, reg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Wire builds the components on top of an open and migrated database
func Wire(cfg *config.Config, db database.Database, reg prometheus.Registerer, logger *log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, DB: db}

	switch db.Driver() {
	case config.DriverPostgres:
		a.Schemas = postgres.NewPostgresSchemaRepository(db.Conn())
		a.Containers = postgres.NewPostgresContainerRepository(db.Conn())
	case config.DriverSQLite:
		a.Schemas = sqlite.NewSQLiteSchemaRepository(db.Conn())
		a.Containers = sqlite.NewSQLiteContainerRepository(db.Conn())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Driver())
	}

	a.Collector = metrics.NewCollector()
	a.Exporter = metrics.NewPrometheusExporter(a.Collector, reg)
	recorder := metrics.NewRecorder(a.Collector, a.Exporter)

	if cfg.Cache.Enabled {
		snapshots, err := memorycache.New(&memorycache.Config[*entities.Schema]{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: cfg.Cache.Metrics,
			SizeOf:        schemaSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create schema cache: %w", err)
		}
		a.Snapshots = snapshots
		a.Collector.SetCache(snapshots)
	}
	a.SchemaService = services.NewSchemaService(a.Schemas, a.Snapshots, recorder, logger)

	scripts, err := sandbox.NewEngine(sandbox.Config{
		Timeout:        cfg.Migration.ScriptTimeout,
		CostLimit:      cfg.Migration.ScriptCost,
		CacheSizeBytes: cfg.Migration.ProgramCacheMB << 20,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create script engine: %w", err)
	}
	a.Scripts = scripts
	a.Engine = migration.NewEngine(scripts, logger)
	a.Runner = migration.NewRunner(a.Schemas, a.Containers, a.Engine, recorder, migration.RunnerConfig{
		Workers:  cfg.Migration.Workers,
		PageSize: cfg.Migration.PageSize,
	}, logger)

	return a, nil
}

// Close releases the cache and the database connection
func (a *App) Close() error {
	if a.Snapshots != nil {
		a.Snapshots.Close()
	}
	return a.DB.Close()
}

// schemaSize estimates the memory held by a cached schema snapshot
func schemaSize(key string, s *entities.Schema) int64 {
	size := int64(256 + len(key) + len(s.Lineage) + len(s.Name) + len(s.Description))
	for _, f := range s.Fields {
		size += int64(128 + len(f.Name))
		for _, v := range f.AllowedValues {
			size += int64(len(v))
		}
	}
	return size
}
