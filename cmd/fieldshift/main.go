package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/asakaida/fieldshift/internal/app"
	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/infrastructure/logging"
)

var (
	envFlag      string
	logLevelFlag string
	logger       = log.NewWithOptions(os.Stderr, log.Options{Prefix: "fieldshift"})
)

var rootCmd = &cobra.Command{
	Use:   "fieldshift",
	Short: "Schema change and field migration tool",
	Long: `fieldshift applies schema change chains and migrates stored field containers
to the resulting schema versions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(matrixCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment's configuration and installs its logger
func loadConfig() (*config.Config, error) {
	if err := config.InitConfig(envFlag); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	l, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = l
	return cfg, nil
}

// openApp connects to the configured store
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to database", "driver", cfg.Database.Driver)
	return a, nil
}
