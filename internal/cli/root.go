// Package cli implements the schedulerd command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/staybook/schedulerd/internal/config"
)

var (
	cfgFile      string
	dbPath       string
	outputFormat string
	verbose      bool

	// appConfig is loaded once per invocation by the root pre-run hook.
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "schedulerd",
	Short: "A recurring job scheduler backed by SQLite",
	Long: `schedulerd stores recurring schedules, computes their next run times
and dispatches due schedules to registered action handlers.

Supported recurrence types:
  once, daily, weekly, monthly, yearly, cron, custom

Start the dispatch loop:
  schedulerd run

Create a schedule from a file:
  schedulerd schedule create -f nightly.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		appConfig = cfg

		if err := setupLogging(cfg.Logging); err != nil {
			return err
		}
		if cfgPath, err := config.ConfigFilePath(cfgFile); err == nil {
			log.Debug().Str("file", cfgPath).Msg("Using config file")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	// Skips config loading.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./scheduler.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "database", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable, "output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// setupLogging configures the global zerolog logger from cfg. --verbose
// forces debug level.
func setupLogging(cfg config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.Output != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	if cfg.Format != "json" {
		// Pretty console output, without colors when writing to a file
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.Output != ""}
	}

	logCtx := zerolog.New(out).With()
	if cfg.Timestamp {
		logCtx = logCtx.Timestamp()
	}
	if cfg.Caller {
		logCtx = logCtx.Caller()
	}
	log.Logger = logCtx.Logger()
	return nil
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("schedulerd version %s", "0.1.0-dev")
}
