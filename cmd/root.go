// Package cmd defines and implements the CLI commands for the collector executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/text-audit/data-collector/internal/config"
	"github.com/text-audit/data-collector/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "A multi-source text collection engine.",
		Long: `collector gathers text for auditing from web pages, the Zhihu
platform, JSON APIs, and local files. Collected records stream through a
bounded queue into a JSON-lines sink, with per-source rate limiting and
hostile-response backoff.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults)")

	cmd.AddCommand(newCollectCmd())

	return cmd
}

// loadRuntime builds the shared config and logger used by subcommands.
func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
