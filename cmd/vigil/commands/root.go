package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	riskConfigFile string
	verbose        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil - portfolio risk management and kill-switch engine",
	Long: `Vigil watches a live portfolio, computes its risk metrics on a
schedule, raises alerts when limits are breached and halts trading
through the kill switch when a sustained breach or a stale risk view
makes continuing unsafe.

Usage:
  go run ./cmd/vigil [command]

Examples:
  go run ./cmd/vigil run
  go run ./cmd/vigil stress --portfolio portfolio.json
  go run ./cmd/vigil validate --risk-config config/risk.yaml`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&riskConfigFile, "risk-config", "", "risk parameter file (default from RISK_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
