package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/config"
	"github.com/JakeFAU/postrelay/internal/relay"
	"github.com/JakeFAU/postrelay/internal/server"
)

func newCursorCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or override the stored cursor",
	}
	cmd.AddCommand(newCursorShowCmd(env), newCursorSetCmd(env))
	return cmd
}

func newCursorShowCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cursor for the configured source as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCursorStore(cmd.Context(), env, func(cfg *config.Config, store relay.CursorStore) error {
				cur, ok, err := store.Load(cmd.Context(), cfg.Source.Name)
				if err != nil {
					return fmt.Errorf("load cursor: %w", err)
				}
				out := map[string]any{"source": cfg.Source.Name, "present": ok}
				if ok {
					out["last_id"] = cur.LastID
					out["updated_at"] = cur.UpdatedAt
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return fmt.Errorf("encode cursor: %w", err)
				}
				return nil
			})
		},
	}
}

func newCursorSetCmd(env *environment) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Set the cursor for the configured source",
		Long: `set raises the cursor to <id>. A lower value is ignored unless --force is
given, in which case the cursor is rewound and the posts above <id> will be
delivered again on the next run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 0 {
				return fmt.Errorf("invalid cursor id %q", args[0])
			}
			return withCursorStore(cmd.Context(), env, func(cfg *config.Config, store relay.CursorStore) error {
				cur := relay.Cursor{Source: cfg.Source.Name, LastID: id, UpdatedAt: time.Now().UTC()}
				if force {
					overrider, ok := store.(relay.CursorOverrider)
					if !ok {
						return fmt.Errorf("cursor backend %q does not support --force", cfg.Cursor.Backend)
					}
					if err := overrider.Overwrite(cmd.Context(), cur); err != nil {
						return fmt.Errorf("overwrite cursor: %w", err)
					}
				} else if err := store.Save(cmd.Context(), cur); err != nil {
					return fmt.Errorf("save cursor: %w", err)
				}

				stored, _, err := store.Load(cmd.Context(), cfg.Source.Name)
				if err != nil {
					return fmt.Errorf("reload cursor: %w", err)
				}
				if stored.LastID != id {
					fmt.Fprintf(cmd.OutOrStdout(), "cursor for %s stays at %d (use --force to rewind)\n", cfg.Source.Name, stored.LastID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cursor for %s set to %d\n", cfg.Source.Name, id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "allow moving the cursor backwards")
	return cmd
}

func withCursorStore(
	ctx context.Context,
	env *environment,
	fn func(*config.Config, relay.CursorStore) error,
) error {
	cfg, logger, err := env.load()
	if err != nil {
		return err
	}
	if cfg.Cursor.Backend == config.CursorMemory {
		return errors.New("the memory cursor backend does not persist between commands")
	}
	store, closeFn, err := server.OpenCursorStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer func() {
			if cerr := closeFn(ctx); cerr != nil {
				logger.Warn("close cursor store", zap.Error(cerr))
			}
		}()
	}
	return fn(cfg, store)
}
