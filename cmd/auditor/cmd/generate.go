package cmd

import (
	"fmt"
	"sort"
	"time"

	"bank-fee-auditor/internal/scenario"

	"github.com/spf13/cobra"
)

var (
	generateOutputDir string
	generateScenario  string
	generateSeed      int64
)

// generateCmd writes sample inputs with known anomalies
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate sample audit inputs with known anomalies",
	Long: `Generate writes sample statements, bank conditions, balances, ledgers and
historical fees, each scenario built to trigger one kind of anomaly.

Examples:
  auditor generate --output-dir samples
  auditor generate --scenario duplicates --seed 42
  auditor analyze --transactions samples/duplicates/statement.csv`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&generateOutputDir, "output-dir", "samples", "output directory for scenario files")
	generateCmd.Flags().StringVar(&generateScenario, "scenario", "all", "scenario to generate: all, duplicates, ghost-fees, overcharge, interest, reconciliation")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", time.Now().UnixNano(), "random seed for reproducible generation")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	generator := scenario.NewGenerator(generateOutputDir, generateSeed)

	var (
		results []*scenario.Result
		err     error
	)
	if generateScenario == "all" {
		results, err = generator.GenerateAll()
	} else {
		var result *scenario.Result
		result, err = generator.Generate(generateScenario)
		if result != nil {
			results = append(results, result)
		}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, result := range results {
		fmt.Fprintf(out, "%s (expects %s)\n", result.Name, result.Expected)
		names := make([]string, 0, len(result.Files))
		for name := range result.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %s\n", result.Files[name])
		}
	}
	fmt.Fprintf(out, "Seed used: %d\n", generateSeed)
	return nil
}
