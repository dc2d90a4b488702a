package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/bundlekit/internal/config"
	"github.com/conneroisu/bundlekit/internal/errors"
	"github.com/conneroisu/bundlekit/internal/logging"
)

const (
	// configFileEnv overrides the config file location.
	configFileEnv = "BUNDLEKIT_CONFIG_FILE"
	// defaultConfigName is the config file looked up in the working
	// directory, without extension.
	defaultConfigName = ".bundlekit"
)

var (
	cfgFile string

	// cliLogger is the logger of the running command, used to report the
	// error a command returns.
	cliLogger logging.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bundlekit",
	Short: "A front-end bundler with code splitting and a live reload dev server",
	Long: `bundlekit bundles JavaScript, TypeScript, stylesheets and assets for the
browser.

It resolves the module graph from the configured entries, transforms every
module, splits shared and vendor code into chunks and writes content-hashed
files together with an HTML shell and a manifest.

Production builds are minified with extracted stylesheets; development builds
keep eval source maps and inject styles at runtime. The serve command rebuilds
on file changes and reloads connected browsers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

// Execute adds all child commands to the root command and runs it. The
// context is canceled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(ctx, rootCmd.ErrOrStderr(), err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .bundlekit.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initConfig reads in the config file and environment variables and binds
// the persistent flags.
func initConfig(cmd *cobra.Command) error {
	config.BindEnv()

	if err := bindFlags(cmd.Flags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	}); err != nil {
		return err
	}

	file := cfgFile
	if file == "" {
		file = os.Getenv(configFileEnv)
	}

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(defaultConfigName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && stderrors.As(err, &notFound) {
			return nil
		}
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("reading config file: %v", err))
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed())
	return nil
}

// loadPlan loads the configuration, lets adjust edit it and resolves the
// plan. It also builds the command's logger from the log settings.
func loadPlan(cmd *cobra.Command, adjust func(*config.Config)) (*config.Plan, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}

	plan, err := config.Resolve(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return plan, logger, nil
}

func newLogger(cfg *config.Config, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}
	cliLogger = logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: w,
	})
	return cliLogger, nil
}

func reportError(ctx context.Context, w io.Writer, err error) {
	logger := cliLogger
	if logger == nil {
		logger = logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Output: w})
	}
	errors.NewErrorHandler(logger).Handle(ctx, err)
}
