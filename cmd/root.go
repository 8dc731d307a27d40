// Package cmd defines and implements the CLI commands for the leadgen executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/config"
	"github.com/JakeFAU/reddit-leadgen/internal/logging"
)

type rootOptions struct {
	configFile string
}

// newRootCmd creates the root command and registers every subcommand.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "leadgen",
		Short: "Finds Reddit discussions for a business and drafts replies.",
		Long: `leadgen scrapes a business website, searches Reddit for threads where
the business could help, scores and drafts comments with an LLM, and posts
approved content on a jittered schedule from warmed-up accounts.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newScheduleCmd())
	return cmd
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
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
