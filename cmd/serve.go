package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pane-relay tools over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout exposing pane capture, delta capture,
pane/session listing, keystroke sending, session management and agent
restarts as tools.

stdout carries the protocol; set log_dir (or PANE_RELAY_LOG_DIR) to keep logs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.WithoutCancel(ctx))

		ctl := a.controller()
		defer ctl.Close()

		srv := server.New(Version, a.tmux, a.engine(), ctl, a.restartDefaults())
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
