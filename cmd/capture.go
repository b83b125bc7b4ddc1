package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/model"
)

var (
	flagCaptureLines int
	flagCaptureRaw   bool
	flagCaptureJoin  bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <target>",
	Short: "Print the text of a pane",
	Long: `Print the visible content and recent scrollback of a tmux pane.

The target is a pane id ("%12") or "session:window.pane" ("dev:0.1").
By default the agent's input box and status lines are stripped; --raw
prints the pane exactly as tmux renders it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.WithoutCancel(ctx))

		mode := model.ModeFiltered
		if flagCaptureRaw {
			mode = model.ModeRaw
		}
		res, err := a.engine().Capture(ctx, capture.Request{
			Target:      args[0],
			Lines:       flagCaptureLines,
			Mode:        mode,
			JoinWrapped: flagCaptureJoin,
		})
		if err != nil {
			return fmt.Errorf("failed to capture pane %q: %w", args[0], err)
		}

		if len(res.Lines) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(res.Lines, "\n"))
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().IntVarP(&flagCaptureLines, "lines", "n", 0, "scrollback lines to include (default: capture_lines, max 4000)")
	captureCmd.Flags().BoolVar(&flagCaptureRaw, "raw", false, "do not strip agent chrome")
	captureCmd.Flags().BoolVar(&flagCaptureJoin, "join", false, "join soft-wrapped lines")
	rootCmd.AddCommand(captureCmd)
}
