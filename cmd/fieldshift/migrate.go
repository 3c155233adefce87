package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asakaida/fieldshift/internal/app"
	"github.com/asakaida/fieldshift/internal/services/migration"
)

var (
	migrateFrom int
	migrateTo   int

	purgeOlderThan time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <schema>",
	Short: "Migrate the containers of a lineage between versions",
	Long: `Migrate every live container bound to --from to --to (default: the head),
one version at a time. Interrupting the command stops scheduling new items;
items already migrated stay migrated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return runMigration(cmd, a, args[0], migrateFrom, migrateTo)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete superseded containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cutoff := time.Now().Add(-purgeOlderThan)
		n, err := a.Containers.Purge(cmd.Context(), cutoff)
		if err != nil {
			return fmt.Errorf("failed to purge containers: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d superseded containers created before %s\n", n, cutoff.Format(time.RFC3339))
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateFrom, "from", 1, "Version to migrate from")
	migrateCmd.Flags().IntVar(&migrateTo, "to", 0, "Version to migrate to (default: head)")

	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 7*24*time.Hour, "Only purge containers older than this")
}

// runMigration runs the bulk migration until done or interrupted and prints its report
func runMigration(cmd *cobra.Command, a *app.App, schema string, from, to int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.Runner.Run(ctx, migration.Job{SchemaName: schema, FromVersion: from, ToVersion: to})
	if err != nil {
		return err
	}
	printReport(cmd, report)
	if len(report.Failed) > 0 || report.Canceled {
		return fmt.Errorf("migration of %s incomplete: %d failed, %d skipped", schema, len(report.Failed), report.Skipped)
	}
	return nil
}

func printReport(cmd *cobra.Command, report *migration.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d -> %d: %d migrated, %d failed, %d skipped in %s\n",
		report.SchemaName, report.FromVersion, report.ToVersion,
		report.Migrated, len(report.Failed), report.Skipped, report.Duration.Round(time.Millisecond))
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  %s@%d: %v\n", f.ContainerID, f.Version, f.Err)
	}
	if report.Canceled {
		fmt.Fprintln(out, "  canceled before completion")
	}
}
