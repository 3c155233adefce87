// Package database opens the backing store and applies its migrations.
package database

import (
	"database/sql"
	"fmt"

	"github.com/asakaida/fieldshift/internal/infrastructure/config"
)

// Database is an open store connection
type Database interface {
	Conn() *sql.DB
	Driver() string
	RunMigrations() error
	HealthCheck() error
	Close() error
}

// Open connects to the database selected by cfg.Driver
func Open(cfg *config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		pg, err := NewPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite:
		lite, err := NewSQLite(cfg)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}
