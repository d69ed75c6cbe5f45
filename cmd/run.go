package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/server"
)

func newRunCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute a single run and print its summary",
		Long: `run fetches, delivers and advances the cursor once, then exits. It exits
non-zero when the fetch or the cursor store fails; individual delivery
failures are reported in the summary only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := env.load()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(cmd.Context()); cerr != nil {
					logger.Warn("close application", zap.Error(cerr))
				}
			}()

			summary, err := app.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (cursor %d)\n", summary, summary.Cursor)
			return nil
		},
	}
}
