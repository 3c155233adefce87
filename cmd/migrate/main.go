package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/infrastructure/database"
	"github.com/asakaida/fieldshift/internal/infrastructure/logging"
)

var (
	envFlag string
	db      database.Database
	logger  = log.NewWithOptions(os.Stderr, log.Options{Prefix: "migrate"})
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for fieldshift",
	Long: `Database migration tool for fieldshift.
Manages the PostgreSQL or SQLite store schema using golang-migrate.`,
	PersistentPreRun:  setupDatabase,
	PersistentPostRun: closeDatabase,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Long:  `Apply all pending migrations to the database.`,
	Run:   runUp,
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback migrations",
	Long:  `Rollback the specified number of migrations (default: 1).`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runDown,
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Migrate to a specific version",
	Long:  `Migrate to a specific version number.`,
	Args:  cobra.ExactArgs(1),
	Run:   runGoto,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	Long:  `Display the current migration version of the database.`,
	Run:   runVersion,
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Force set migration version (use with caution)",
	Long:  `Force set the migration version without running migrations. Use with caution.`,
	Args:  cobra.ExactArgs(1),
	Run:   runForce,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(forceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command", "err", err)
	}
}

func setupDatabase(cmd *cobra.Command, args []string) {
	if err := config.InitConfig(envFlag); err != nil {
		logger.Fatal("Failed to initialize config", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", "err", err)
	}
	if l, err := logging.New(cfg.Log); err == nil {
		logger = l.WithPrefix("migrate")
	}
	logger.Info("Using environment", "env", envFlag, "driver", cfg.Database.Driver)

	db, err = database.Open(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}

	if cfg.Database.Driver == config.DriverSQLite {
		logger.Info("Connected to database", "path", cfg.Database.Path)
		return
	}
	logger.Info("Connected to database",
		"user", cfg.Database.User,
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Database)
}

func closeDatabase(cmd *cobra.Command, args []string) {
	if db != nil {
		db.Close()
	}
}

func newMigrate() *migrate.Migrate {
	m, err := database.NewMigrate(db.Conn(), db.Driver())
	if err != nil {
		logger.Fatal("Failed to create migrate instance", "err", err)
	}
	return m
}

func parseVersion(arg string) int {
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 {
		logger.Fatal("Invalid version", "version", arg)
	}
	return v
}

func runUp(cmd *cobra.Command, args []string) {
	m := newMigrate()

	err := m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Migration up failed", "err", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply")
	} else {
		logger.Info("Migration up completed successfully")
	}
}

func runDown(cmd *cobra.Command, args []string) {
	steps := 1 // Default: rollback 1 migration
	if len(args) > 0 {
		steps = parseVersion(args[0])
	}

	m := newMigrate()

	err := m.Steps(-steps)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Migration down failed", "err", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to rollback")
	} else {
		logger.Info("Migration down completed successfully", "steps", steps)
	}
}

func runGoto(cmd *cobra.Command, args []string) {
	version := parseVersion(args[0])

	m := newMigrate()

	err := m.Migrate(uint(version))
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Migration goto failed", "err", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("Already at version", "version", version)
	} else {
		logger.Info("Migration goto completed successfully", "version", version)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	m := newMigrate()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("Current version: No migrations applied yet")
		return
	}
	if err != nil {
		logger.Fatal("Failed to get version", "err", err)
	}

	if dirty {
		logger.Warn("Current version is dirty, a migration may have failed", "version", version)
	} else {
		logger.Info("Current version", "version", version)
	}
}

func runForce(cmd *cobra.Command, args []string) {
	version := parseVersion(args[0])

	m := newMigrate()

	if err := m.Force(version); err != nil {
		logger.Fatal("Migration force failed", "err", err)
	}

	logger.Info("Migration forced", "version", version)
}
