package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	"github.com/timvw/pane-relay/internal/watch"
)

var (
	flagWatchNoEmbed bool
	flagWatchTheme   string
	flagWatchScope   string
	flagWatchRaw     bool
	flagWatchPar     int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive monitor of agent panes",
	Long: `Launch a terminal UI listing every pane that runs a coding agent. Each
refresh takes a delta capture, so the preview shows what the agent printed
since the previous poll. From the list you can jump to a pane, type a line
into it, reset its baseline, or restart the agent.

If not already running inside tmux, watch re-launches itself in a new tmux
session so that jumping to a pane works. Use --no-embed to disable this.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Jumping (switch-client) needs an attached tmux client.
		if !flagWatchNoEmbed {
			autoEmbedInTmux()
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel() // cancels in-flight polls when the TUI exits

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.WithoutCancel(ctx))

		ctl := a.controller()
		defer ctl.Close()

		mode := model.ModeFiltered
		if flagWatchRaw {
			mode = model.ModeRaw
		}
		poller := &watch.Poller{
			Mux:             a.tmux,
			Engine:          a.engine(),
			Scope:           flagWatchScope,
			ExcludeSessions: a.cfg.ExcludeSessions,
			SelfPaneID:      mux.SelfPaneID(),
			Mode:            mode,
			Parallel:        flagWatchPar,
		}

		tui := &watch.TUI{
			Poller:          poller,
			Restarter:       ctl,
			Mux:             a.tmux,
			RestartOptions:  a.restartOptions(),
			RefreshInterval: a.cfg.WatchRefreshDuration,
			ThemeName:       flagWatchTheme,
		}
		if mux.InsideTmux() {
			tui.Jump = func(paneID string) error {
				return a.tmux.SwitchClient(ctx, paneID)
			}
		}
		return tui.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&flagWatchNoEmbed, "no-embed", false, "do not auto-embed in a tmux session (jumping will not work outside tmux)")
	watchCmd.Flags().StringVar(&flagWatchTheme, "theme", "dark", "color theme: dark, light")
	watchCmd.Flags().StringVar(&flagWatchScope, "scope", "", "only watch panes of one session")
	watchCmd.Flags().BoolVar(&flagWatchRaw, "raw", false, "do not strip agent chrome from previews")
	watchCmd.Flags().IntVar(&flagWatchPar, "parallel", 4, "panes captured concurrently per poll")
	rootCmd.AddCommand(watchCmd)
}

// autoEmbedInTmux re-launches the current process inside a new tmux session
// when not already running under tmux. On success the process is replaced
// and this never returns; on failure it warns and returns.
func autoEmbedInTmux() {
	if mux.InsideTmux() {
		return
	}

	tmuxPath, err := exec.LookPath("tmux")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tmux not found in PATH, jumping to panes will not work\n")
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve executable path: %v\n", err)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}

	// Let tmux pick a name if ours is taken.
	sessionName := "pane-relay-watch"
	if exec.Command(tmuxPath, "has-session", "-t", sessionName).Run() == nil {
		sessionName = ""
	}

	tmuxArgs := []string{"tmux", "new-session"}
	if sessionName != "" {
		tmuxArgs = append(tmuxArgs, "-s", sessionName)
	}
	tmuxArgs = append(tmuxArgs, "-c", wd, exe)
	tmuxArgs = append(tmuxArgs, os.Args[1:]...)

	fmt.Fprintf(os.Stderr, "not inside tmux, embedding in a new tmux session\n")
	if err := syscall.Exec(tmuxPath, tmuxArgs, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not auto-embed in tmux: %v\n", err)
		fmt.Fprintf(os.Stderr, "use --no-embed to suppress this warning\n")
	}
}
