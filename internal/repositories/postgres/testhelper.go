package postgres

import (
	"database/sql"
	"testing"

	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/infrastructure/database"
)

// SetupTestDB connects to the test database and runs migrations. The test is
// skipped when no PostgreSQL database is configured or reachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("Failed to init config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil || cfg.Database.Driver != config.DriverPostgres {
		t.Skipf("PostgreSQL is not configured: %v", err)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("PostgreSQL is not reachable: %v", err)
	}

	if err := pg.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	CleanupTestDB(t, pg.DB)
	t.Cleanup(func() {
		CleanupTestDB(t, pg.DB)
		if err := pg.Close(); err != nil {
			t.Logf("Warning: Failed to close database: %v", err)
		}
	})
	return pg.DB
}

// CleanupTestDB deletes all rows written by tests
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	// containers first, they reference schemas
	for _, table := range []string{"field_containers", "schemas"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Logf("Warning: Failed to clean up table %s: %v", table, err)
		}
	}
}
