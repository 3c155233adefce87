package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/services/migration"
	"github.com/asakaida/fieldshift/internal/services/mutator"
	"github.com/asakaida/fieldshift/internal/services/sandbox"
)

type applyOptions struct {
	schemaPath     string
	changesPath    string
	containersPath string
	outputPath     string
}

var applyOpts applyOptions

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a change chain to a schema file",
	Long: `Apply a change chain to a schema file without touching the store.
The resulting schema is written as YAML. With --containers the given field
containers are migrated to the new schema as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if logLevelFlag != "" {
			level, err := log.ParseLevel(logLevelFlag)
			if err != nil {
				return err
			}
			logger.SetLevel(level)
		}

		out := cmd.OutOrStdout()
		if applyOpts.outputPath != "" {
			f, err := os.Create(applyOpts.outputPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", applyOpts.outputPath, err)
			}
			defer f.Close()
			out = f
		}
		return runApply(cmd.Context(), out, applyOpts, logger)
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyOpts.schemaPath, "schema", "s", "", "Schema YAML file")
	applyCmd.Flags().StringVarP(&applyOpts.changesPath, "changes", "c", "", "Change chain YAML file")
	applyCmd.Flags().StringVar(&applyOpts.containersPath, "containers", "", "Field containers YAML file to migrate")
	applyCmd.Flags().StringVarP(&applyOpts.outputPath, "output", "o", "", "Write the result to a file instead of stdout")
	_ = applyCmd.MarkFlagRequired("schema")
	_ = applyCmd.MarkFlagRequired("changes")
}

// applyOutput is the YAML document written by apply
type applyOutput struct {
	Schema     *entities.Schema `yaml:"schema"`
	Skipped    []string         `yaml:"skipped,omitempty"`
	Containers []containerDoc   `yaml:"containers,omitempty"`
	Failures   []failureDoc     `yaml:"failures,omitempty"`
}

type failureDoc struct {
	ID    string `yaml:"id"`
	Error string `yaml:"error"`
}

func runApply(ctx context.Context, w io.Writer, opts applyOptions, logger *log.Logger) error {
	base, err := readSchema(opts.schemaPath)
	if err != nil {
		return err
	}
	if err := base.Validate(); err != nil {
		return fmt.Errorf("schema %s is invalid: %w", opts.schemaPath, err)
	}
	chain, err := readChain(opts.changesPath)
	if err != nil {
		return err
	}

	applied, err := mutator.Apply(base, chain)
	if err != nil {
		return fmt.Errorf("failed to apply changes: %w", err)
	}
	next := applied.Schema
	next.Version = base.Version + 1

	out := applyOutput{Schema: next}
	for _, skipped := range applied.Skipped {
		logger.Warn("change skipped", "err", skipped)
		out.Skipped = append(out.Skipped, skipped.Error())
	}

	if opts.containersPath != "" {
		containers, err := readContainers(opts.containersPath, base)
		if err != nil {
			return err
		}
		scripts, err := sandbox.NewEngine(sandbox.Config{}, logger)
		if err != nil {
			return fmt.Errorf("failed to create script engine: %w", err)
		}
		engine := migration.NewEngine(scripts, logger)

		for _, result := range engine.Migrate(ctx, containers, chain, base, next) {
			if result.Err != nil {
				logger.Warn("container not migrated", "id", result.Source.ID, "err", result.Err)
				out.Failures = append(out.Failures, failureDoc{ID: result.Source.ID.String(), Error: result.Err.Error()})
				continue
			}
			out.Containers = append(out.Containers, containerToDoc(result.Migrated))
		}
	}

	return writeYAML(w, out)
}
