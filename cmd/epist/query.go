package main

import (
	"fmt"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <state.json> <jsonpath>",
	Short: "Extract fields from a saved final state",
	Long: `Query evaluates a JSONPath expression against a saved final-state file
and prints every match.

Examples:
  epist query results/case-01/state.json '$.ranking.hypotheses[0].diagnosis'
  epist query results/case-01/state.json '$.induction_plausible.hypotheses[*].diagnosis'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0]) // #nosec G304 - user-provided state file
		if err != nil {
			return fmt.Errorf("read state file: %w", err)
		}

		doc, err := oj.Parse(data)
		if err != nil {
			return fmt.Errorf("parse state file: %w", err)
		}

		expr, err := jp.ParseString(args[1])
		if err != nil {
			return fmt.Errorf("parse jsonpath: %w", err)
		}

		results := expr.Get(doc)
		if len(results) == 0 {
			return fmt.Errorf("no match for %q", args[1])
		}
		for _, r := range results {
			fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(r, 2))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
