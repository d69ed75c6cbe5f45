// Package cmd implements the postrelay command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/config"
	"github.com/JakeFAU/postrelay/internal/server"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "postrelay",
		Short: "Relay new posts from a posts API to a messaging channel.",
		Long: `postrelay fetches new posts from an e621-style posts.json API, forwards
each one to a messaging channel and records a per-source cursor so reruns
never resend what was already processed.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables use the POSTRELAY_ prefix")

	env := &environment{cfgFile: &cfgFile}
	cmd.AddCommand(
		newServeCmd(env),
		newRunCmd(env),
		newCursorCmd(env),
	)
	return cmd
}

// environment loads configuration and the logger lazily, after flags parse.
type environment struct {
	cfgFile *string
}

func (e *environment) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(*e.cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := server.NewLogger(&cfg)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, logger, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
