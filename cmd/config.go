package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved build plan",
	Long: `Print the plan bundlekit builds with: the configuration after defaults, the
config file, environment variables and flags were applied, with the mode
settings (minification, source maps, style handling, filenames) filled in.

Examples:
  bundlekit config                     # Production plan as YAML
  bundlekit config --mode development  # Development plan
  bundlekit config --format json`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var (
	configMode   modeValue
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().Var(&configMode, "mode", "build mode (production, development)")
	configCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format (yaml, json)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags(), map[string]string{"mode": "mode"}); err != nil {
		return err
	}

	plan, _, err := loadPlan(cmd, nil)
	if err != nil {
		return err
	}

	var out []byte
	switch configFormat {
	case "yaml":
		out, err = yaml.Marshal(plan)
	case "json":
		out, err = json.MarshalIndent(plan, "", "  ")
		out = append(out, '\n')
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(out)
	return err
}
