package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wonny/vigil/internal/feed"
	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/internal/stress"
	"github.com/wonny/vigil/pkg/config"
)

// stressCmd represents the stress command
var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run stress scenarios against a portfolio file",
	Long: `Runs every configured stress scenario against a portfolio read
from a JSON file and prints the projected losses. Historical replay
scenarios are skipped here because offline runs carry no return
history.

Example:
  go run ./cmd/vigil stress --portfolio portfolio.json`,
	RunE: runStress,
}

var stressPortfolioFile string

func init() {
	rootCmd.AddCommand(stressCmd)

	stressCmd.Flags().StringVar(&stressPortfolioFile, "portfolio", "", "portfolio JSON file (required)")
	stressCmd.MarkFlagRequired("portfolio")
}

func runStress(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if riskConfigFile != "" {
		cfg.RiskConfigPath = riskConfigFile
	}

	rc, _, err := riskconfig.Load(cfg.RiskConfigPath)
	if err != nil {
		return fmt.Errorf("load risk config: %w", err)
	}

	portfolio, err := feed.LoadPortfolioFile(stressPortfolioFile)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}

	var scenarios []riskconfig.ScenarioConfig
	for _, sc := range rc.StressTesting.Scenarios {
		if sc.Type == riskconfig.ScenarioHistorical {
			fmt.Printf("skipping historical scenario %q (no return history offline)\n", sc.Name)
			continue
		}
		scenarios = append(scenarios, sc)
	}

	tester := stress.NewTester(rc)
	results, err := tester.RunScenarios(portfolio, scenarios, nil)
	if err != nil {
		return fmt.Errorf("stress run: %w", err)
	}

	fmt.Printf("\nPortfolio value: %.2f\n\n", portfolio.TotalValue())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tTYPE\tLOSS\tLOSS %\tBREACH")
	for _, r := range results {
		breach := ""
		if r.BreachThreshold {
			breach = "YES"
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f%%\t%s\n",
			r.Name, r.Type, r.Loss, r.LossPct*100, breach)
	}
	return w.Flush()
}
