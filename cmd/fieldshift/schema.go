package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/asakaida/fieldshift/internal/entities"
)

var (
	createSchemaPath string

	publishChangesPath string
	publishExpected    int
	publishMigrate     bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Store a schema file as version 1 of a new lineage",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := readSchema(createSchemaPath)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		created, err := a.SchemaService.CreateSchema(cmd.Context(), schema)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s@%d\n", created.Key(), created.Version)
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <schema>",
	Short: "Apply a change chain to the stored head and publish the next version",
	Long: `Apply a change chain to the head of a stored lineage and publish the result
as the next version. --expected-version guards against publishing on top of a
head that moved since the chain was written. With --migrate the containers of
the previous head are migrated right away.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := readChain(publishChangesPath)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		expected := publishExpected
		if expected == 0 {
			head, err := a.SchemaService.ReadSchema(ctx, args[0])
			if err != nil {
				return err
			}
			expected = head.Version
		}

		result, err := a.SchemaService.ApplyChanges(ctx, args[0], expected, chain)
		if err != nil {
			if errors.Is(err, entities.ErrStaleHead) {
				return fmt.Errorf("%w: re-read the schema and rebase the changes", err)
			}
			return err
		}

		out := cmd.OutOrStdout()
		if result.Replayed {
			fmt.Fprintf(out, "%s@%d was already published from these changes\n", result.Schema.Key(), result.Schema.Version)
			return nil
		}
		for _, skipped := range result.Skipped {
			fmt.Fprintf(out, "skipped: %v\n", skipped)
		}
		fmt.Fprintf(out, "published %s@%d\n", result.Schema.Key(), result.Schema.Version)

		if !publishMigrate {
			return nil
		}
		return runMigration(cmd, a, args[0], expected, result.Schema.Version)
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions <schema>",
	Short: "List the published versions of a lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.SchemaService.ListVersions(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tCREATED\tCHANGES")
		for _, v := range versions {
			fmt.Fprintf(w, "%d\t%s\t%s\n", v.Version, v.CreatedAt.Format(time.RFC3339), v.ChangeChecksum)
		}
		return w.Flush()
	},
}

func init() {
	createCmd.Flags().StringVarP(&createSchemaPath, "schema", "s", "", "Schema YAML file")
	_ = createCmd.MarkFlagRequired("schema")

	publishCmd.Flags().StringVarP(&publishChangesPath, "changes", "c", "", "Change chain YAML file")
	publishCmd.Flags().IntVar(&publishExpected, "expected-version", 0, "Version the changes were written against (default: current head)")
	publishCmd.Flags().BoolVar(&publishMigrate, "migrate", false, "Migrate the containers of the previous head after publishing")
	_ = publishCmd.MarkFlagRequired("changes")
}
