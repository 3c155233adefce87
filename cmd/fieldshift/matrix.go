package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/services/conversion"
)

var matrixFrom, matrixTo string

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Print the field conversion matrix",
	Long: `Print the default conversion strategy for every pair of field shapes.
With --from and --to only the strategy of that pair is printed. Shapes are
written as "date" or "date-list".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if matrixFrom == "" && matrixTo == "" {
			_, err := fmt.Fprint(out, conversion.Table())
			return err
		}
		from, err := parseShape(matrixFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		to, err := parseShape(matrixTo)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		_, err = fmt.Fprintf(out, "%s -> %s: %s\n", from, to, conversion.StrategyFor(from, to))
		return err
	},
}

func init() {
	matrixCmd.Flags().StringVar(&matrixFrom, "from", "", "Source shape")
	matrixCmd.Flags().StringVar(&matrixTo, "to", "", "Target shape")
}

// parseShape parses "date" or "date-list"
func parseShape(s string) (entities.FieldShape, error) {
	name, list := strings.CutSuffix(s, "-list")
	t, err := entities.ParseFieldType(name)
	if err != nil {
		return entities.FieldShape{}, err
	}
	if list && !t.Listable() {
		return entities.FieldShape{}, fmt.Errorf("%s has no list form", t)
	}
	return entities.FieldShape{Type: t, List: list}, nil
}
