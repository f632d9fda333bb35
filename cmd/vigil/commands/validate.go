package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/pkg/config"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a risk parameter file",
	Long: `Parses and validates a risk parameter file without starting the
service. On success the config hash is printed; live processes log the
same hash at startup, so the two can be compared before a rollout.

Example:
  go run ./cmd/vigil validate --risk-config config/risk.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := riskConfigFile
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path = cfg.RiskConfigPath
	}

	rc, _, err := riskconfig.Load(path)
	if err != nil {
		var verr riskconfig.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid config %s: field %s: %w", path, verr.Field, err)
		}
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	hash, err := riskconfig.Hash(rc)
	if err != nil {
		return fmt.Errorf("hash config: %w", err)
	}

	fmt.Printf("OK %s\n", path)
	fmt.Printf("  config_id: %s\n", rc.Meta.ConfigID)
	fmt.Printf("  version:   %d\n", rc.Meta.Version)
	fmt.Printf("  hash:      %s\n", hash)
	fmt.Printf("  triggers:  %d\n", len(rc.KillSwitch.Triggers))
	fmt.Printf("  scenarios: %d\n", len(rc.StressTesting.Scenarios))
	return nil
}
