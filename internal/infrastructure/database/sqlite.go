package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asakaida/fieldshift/internal/infrastructure/config"
)

// SQLite represents an embedded SQLite database
type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens the SQLite database file named by cfg.Path
func NewSQLite(cfg *config.DatabaseConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	db, err := sql.Open("sqlite", cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection serializes writers
	// instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLite{DB: db}, nil
}

// Conn returns the connection pool
func (s *SQLite) Conn() *sql.DB { return s.DB }

// Driver returns the driver name
func (s *SQLite) Driver() string { return config.DriverSQLite }

// RunMigrations applies the embedded SQLite migrations
func (s *SQLite) RunMigrations() error {
	return runMigrations(s.DB, config.DriverSQLite)
}

// HealthCheck checks if the database connection is healthy
func (s *SQLite) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
