package e2e

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/asakaida/fieldshift/internal/app"
	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/services/migration"
)

// E2ETestEnv is a fully wired fieldshift process backed by a real store
type E2ETestEnv struct {
	App *app.App
}

// SetupE2ETest sets up an E2E test environment. The store is a fresh SQLite
// database unless E2E_DRIVER=postgres selects the test PostgreSQL database.
func SetupE2ETest(t *testing.T) *E2ETestEnv {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "e2e.db"),
		},
		Migration: config.MigrationConfig{Workers: 4, PageSize: 3, ScriptTimeout: time.Second, ScriptCost: 1_000_000},
		Cache:     config.CacheConfig{Enabled: true, MaxMemoryBytes: 1 << 20, Metrics: true, TTLMinutes: 5},
	}
	if os.Getenv("E2E_DRIVER") == config.DriverPostgres {
		if err := config.InitConfig("test"); err != nil {
			t.Fatalf("failed to initialize config: %v", err)
		}
		loaded, err := config.Load()
		if err != nil {
			t.Skipf("PostgreSQL test database not configured: %v", err)
		}
		cfg = loaded
	}

	logger := log.New(io.Discard)
	if testing.Verbose() {
		logger = log.NewWithOptions(os.Stderr, log.Options{Level: log.DebugLevel})
	}

	a, err := app.New(cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		t.Fatalf("failed to set up fieldshift: %v", err)
	}

	env := &E2ETestEnv{App: a}
	env.cleanupDatabase(t)
	return env
}

// Teardown cleans up the E2E test environment
func (e *E2ETestEnv) Teardown(t *testing.T) {
	t.Helper()
	if e.App != nil {
		e.cleanupDatabase(t)
		e.App.Close()
	}
}

// cleanupDatabase removes all data from the test database
func (e *E2ETestEnv) cleanupDatabase(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// containers go with their lineage
	names, err := e.App.Schemas.ListNames(ctx)
	if err != nil {
		t.Logf("warning: failed to list schemas: %v", err)
		return
	}
	for _, name := range names {
		if err := e.App.Schemas.Delete(ctx, name); err != nil {
			t.Logf("warning: failed to clean up schema %s: %v", name, err)
		}
	}
}

// CreateContainer stores a container of schema holding fields
func (e *E2ETestEnv) CreateContainer(t *testing.T, schema *entities.Schema, language string, fields map[string]entities.FieldValue) *entities.NodeFieldContainer {
	t.Helper()
	c := entities.NewNodeFieldContainer(uuid.New(), language, schema)
	for name, v := range fields {
		c.Fields[name] = v
	}
	if err := e.App.Containers.Create(context.Background(), c); err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	return c
}

// Migrate migrates every live container of schema from version 1 to the head
func (e *E2ETestEnv) Migrate(t *testing.T, schema string) *migration.Report {
	t.Helper()
	report, err := e.App.Runner.Run(context.Background(), migration.Job{SchemaName: schema, FromVersion: 1})
	if err != nil {
		t.Fatalf("migration of %s failed: %v", schema, err)
	}
	return report
}

// Live returns the live containers of schema at version
func (e *E2ETestEnv) Live(t *testing.T, schema string, version int) []*entities.NodeFieldContainer {
	t.Helper()
	var (
		out   []*entities.NodeFieldContainer
		after uuid.UUID
	)
	for {
		page, err := e.App.Containers.ListBySchemaVersion(context.Background(), schema, version, after, 100)
		if err != nil {
			t.Fatalf("failed to list containers: %v", err)
		}
		out = append(out, page...)
		if len(page) < 100 {
			return out
		}
		after = page[len(page)-1].ID
	}
}
