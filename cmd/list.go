package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/agent"
)

var (
	flagListScope    string
	flagListJSON     bool
	flagListSessions bool
	flagListWindows  bool
	flagListAgents   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List panes, windows or sessions",
	Long: `List tmux panes with their id, target, foreground command and working
directory. Use --sessions or --windows for the other listings and --scope
to limit to one session.

Each pane id or target can be passed to the other commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.WithoutCancel(ctx))

		out := cmd.OutOrStdout()
		switch {
		case flagListSessions:
			sessions := a.tmux.ListSessions(ctx)
			if flagListJSON {
				return writeJSON(out, sessions)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tID\tWINDOWS\tATTACHED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", s.Name, s.ID, s.Windows, s.Attached)
			}
			return tw.Flush()

		case flagListWindows:
			windows := a.tmux.ListWindows(ctx, flagListScope)
			if flagListJSON {
				return writeJSON(out, windows)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSESSION\tINDEX\tNAME\tPANES")
			for _, w := range windows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", w.ID, w.SessionName, w.Index, w.Name, w.Panes)
			}
			return tw.Flush()
		}

		panes := a.tmux.ListPanes(ctx, flagListScope)
		if flagListAgents {
			kept := panes[:0]
			for _, p := range panes {
				if agent.KindForCommand(p.Command) != nil {
					kept = append(kept, p)
				}
			}
			panes = kept
		}
		if flagListJSON {
			return writeJSON(out, panes)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PANE\tTARGET\tCOMMAND\tDIR")
		for _, p := range panes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.PaneID, p.Target(), p.Command, p.WorkingDir)
		}
		return tw.Flush()
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	listCmd.Flags().StringVar(&flagListScope, "scope", "", "limit to one session")
	listCmd.Flags().BoolVar(&flagListJSON, "json", false, "print JSON")
	listCmd.Flags().BoolVar(&flagListSessions, "sessions", false, "list sessions instead of panes")
	listCmd.Flags().BoolVar(&flagListWindows, "windows", false, "list windows instead of panes")
	listCmd.Flags().BoolVar(&flagListAgents, "agents", false, "only panes running a known agent")
	listCmd.MarkFlagsMutuallyExclusive("sessions", "windows")
	rootCmd.AddCommand(listCmd)
}
