package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Migration MigrationConfig
	Cache     CacheConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

// MigrationConfig represents bulk migration and script sandbox configuration
type MigrationConfig struct {
	Workers        int
	PageSize       int
	ScriptTimeout  time.Duration
	ScriptCost     uint64 // CEL cost limit per script run, 0 disables the limit
	ProgramCacheMB int64
	PollInterval   time.Duration // head polling interval for stores without notifications
}

// CacheConfig represents schema snapshot cache configuration
type CacheConfig struct {
	Enabled        bool
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 104857600 = 100MB)
	Metrics        bool
	TTLMinutes     int // Time-to-live for cache entries in minutes
}

// MetricsConfig represents the Prometheus endpoint configuration
type MetricsConfig struct {
	Port int // Port for Prometheus metrics HTTP server, 0 disables it
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json, logfmt
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Path     string // SQLite database file
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	// outside of a source checkout only the working directory is searched
	if projectRoot, err := findProjectRoot(); err == nil {
		viper.AddConfigPath(projectRoot)
	}

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("DB_DRIVER", DriverPostgres)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "fieldshift")
	viper.SetDefault("DB_NAME", "fieldshift_"+env)
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_PATH", "fieldshift.db")

	// Migration defaults
	viper.SetDefault("MIGRATION_WORKERS", 4)
	viper.SetDefault("MIGRATION_PAGE_SIZE", 100)
	viper.SetDefault("MIGRATION_SCRIPT_TIMEOUT", "5s")
	viper.SetDefault("MIGRATION_SCRIPT_COST", 1_000_000)
	viper.SetDefault("MIGRATION_PROGRAM_CACHE_MB", 16)
	viper.SetDefault("MIGRATION_POLL_INTERVAL", "5s")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 100*1024*1024) // 100MB
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("CACHE_TTL_MINUTES", 5)

	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	driver := viper.GetString("DB_DRIVER")
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, driver)
	}

	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if driver == DriverPostgres && dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}

	scriptTimeout := viper.GetDuration("MIGRATION_SCRIPT_TIMEOUT")
	if scriptTimeout <= 0 {
		return nil, fmt.Errorf("MIGRATION_SCRIPT_TIMEOUT must be positive")
	}

	config := &Config{
		Database: DatabaseConfig{
			Driver:   driver,
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: dbPassword,
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
			Path:     viper.GetString("DB_PATH"),
		},
		Migration: MigrationConfig{
			Workers:        viper.GetInt("MIGRATION_WORKERS"),
			PageSize:       viper.GetInt("MIGRATION_PAGE_SIZE"),
			ScriptTimeout:  scriptTimeout,
			ScriptCost:     viper.GetUint64("MIGRATION_SCRIPT_COST"),
			ProgramCacheMB: viper.GetInt64("MIGRATION_PROGRAM_CACHE_MB"),
			PollInterval:   viper.GetDuration("MIGRATION_POLL_INTERVAL"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			Metrics:        viper.GetBool("CACHE_METRICS"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
		Metrics: MetricsConfig{
			Port: viper.GetInt("METRICS_PORT"),
		},
		Log: LogConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
	}

	return config, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// SQLiteDSN returns the modernc.org/sqlite data source name
func (c *DatabaseConfig) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", c.Path)
}
