package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
)

const configHeader = `# bundlekit configuration.
# Every option can be overridden with BUNDLEKIT_<SECTION>_<OPTION>,
# e.g. BUNDLEKIT_DEV_SERVER_PORT=3000.
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .bundlekit.yml",
	Long: `Write a .bundlekit.yml holding the default configuration into the current
directory. An existing file is left alone unless --force is given.

Examples:
  bundlekit init           # Write .bundlekit.yml
  bundlekit init --force   # Replace an existing file`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := defaultConfigName + ".yml"

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return errors.NewValidationError(errors.ErrCodeValidationFailed,
				path+" already exists (use --force to overwrite)")
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(config.Default()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeInvalidPath, "writing "+path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
