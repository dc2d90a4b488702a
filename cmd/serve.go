package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/bundlekit/internal/build"
	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/metrics"
	"github.com/conneroisu/bundlekit/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the development server with live reload",
	Long: `Build the project in memory and serve it. Source changes trigger a rebuild
and connected browsers reload; failed rebuilds show an error overlay while the
last good build keeps being served.

The mode is development unless set in the config file or BUNDLEKIT_MODE.

Examples:
  bundlekit serve                  # Serve on localhost:3000 and open a browser
  bundlekit serve --port 4000      # Serve on another port
  bundlekit serve --no-open        # Do not open a browser`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	servePort   int
	serveHost   string
	serveNoOpen bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "port to serve on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "host to bind to")
	serveCmd.Flags().BoolVar(&serveNoOpen, "no-open", false, "don't open the browser")
}

func runServe(cmd *cobra.Command, args []string) error {
	plan, logger, err := loadServePlan(cmd)
	if err != nil {
		return err
	}

	reporter := metrics.NewReporter()
	bundler := build.NewBundler(plan, logger, reporter)
	defer bundler.Close()

	srv := server.New(bundler, reporter, logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Starting bundlekit %s server at http://%s:%d%s\n",
		plan.Mode, plan.DevServer.Host, plan.DevServer.Port, plan.PublicPath)

	return srv.Start(cmd.Context())
}

// loadServePlan applies the serve flags and resolves a plan, in development
// mode unless the mode was set explicitly.
func loadServePlan(cmd *cobra.Command) (*config.Plan, logging.Logger, error) {
	if err := bindFlags(cmd.Flags(), map[string]string{
		"port": "dev_server.port",
		"host": "dev_server.host",
	}); err != nil {
		return nil, nil, err
	}
	if serveNoOpen {
		viper.Set("dev_server.open", false)
	}

	explicit := modeExplicit()
	return loadPlan(cmd, func(cfg *config.Config) {
		if !explicit {
			cfg.Mode = config.ModeDevelopment
		}
	})
}

// modeExplicit reports whether the mode was set in the config file or the
// environment.
func modeExplicit() bool {
	if _, ok := os.LookupEnv(config.EnvPrefix + "_MODE"); ok {
		return true
	}
	return viper.InConfig("mode")
}
