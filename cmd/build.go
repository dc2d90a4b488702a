package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/bundlekit/internal/build"
)

// statsFile is written into the output directory by --analyze.
const statsFile = "stats.json"

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle the project into the output directory",
	Long: `Bundle the configured entries and write the artifacts, the HTML shell and
manifest.json into the output directory.

Examples:
  bundlekit build                       # Production build into dist/
  bundlekit build --mode development    # Unminified build with source maps
  bundlekit build --analyze             # Also write dist/stats.json
  bundlekit build --output build --clean`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var (
	buildMode    modeValue
	buildOutput  string
	buildAnalyze bool
	buildClean   bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().Var(&buildMode, "mode", "build mode (production, development)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output directory")
	buildCmd.Flags().BoolVar(&buildAnalyze, "analyze", false, "write "+statsFile+" with chunk and module tables")
	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "empty the output directory before writing")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags(), map[string]string{
		"mode":   "mode",
		"output": "output.path",
		"clean":  "output.clean",
	}); err != nil {
		return err
	}

	plan, logger, err := loadPlan(cmd, nil)
	if err != nil {
		return err
	}

	bundler := build.NewBundler(plan, logger, nil)
	defer bundler.Close()

	res, err := bundler.Build(cmd.Context())
	if err != nil {
		if diag := bundler.Diagnostics(); diag != nil {
			printDiagnostics(cmd.ErrOrStderr(), diag.GetErrors())
		}
		return err
	}

	if err := res.Bundle.Write(plan.OutputDir, plan.Clean); err != nil {
		return err
	}

	stats := ""
	if buildAnalyze {
		stats = filepath.Join(plan.OutputDir, statsFile)
		if err := res.Analyze().WriteFile(stats); err != nil {
			return err
		}
	}

	printReport(cmd.OutOrStdout(), plan, res, stats)
	return nil
}
