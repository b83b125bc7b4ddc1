package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/model"
)

var (
	flagRestartAgent         string
	flagRestartContinue      bool
	flagRestartAll           bool
	flagRestartScope         string
	flagRestartStopOnFailure bool
	flagRestartNoVerify      bool
)

var restartCmd = &cobra.Command{
	Use:   "restart [target]",
	Short: "Restart the coding agent in a pane",
	Long: `Interrupt the agent running in a pane with Ctrl-C, relaunch it and check
that the pane is running the agent again.

With --continue the previous session is resumed: Claude Code through its
--continue flag, Codex through the resume token it prints on exit (a fresh
session is started when none is found).

With --all every pane currently running the agent is restarted, one at a
time; exclude_sessions from the config is honored.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if flagRestartAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := agent.ParseKind(flagRestartAgent)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.WithoutCancel(ctx))

		ctl := a.controller()
		defer ctl.Close()

		opts := a.restartOptions()
		opts.Kind = kind
		opts.Continue = flagRestartContinue
		opts.SkipVerify = flagRestartNoVerify

		out := cmd.OutOrStdout()
		if !flagRestartAll {
			res, err := ctl.Restart(ctx, args[0], opts)
			if res != nil {
				fmt.Fprintln(out, formatOutcome(res))
			}
			return err
		}

		batch, err := ctl.RunBatch(ctx, lifecycle.BatchRequest{
			Scope:           flagRestartScope,
			ExcludeSessions: a.cfg.ExcludeSessions,
			StopOnFailure:   flagRestartStopOnFailure,
			Options:         opts,
		})
		if err != nil {
			return err
		}
		for i := range batch.Outcomes {
			fmt.Fprintln(out, formatOutcome(&batch.Outcomes[i]))
		}
		if len(batch.Skipped) > 0 {
			fmt.Fprintf(out, "skipped: %s\n", strings.Join(batch.Skipped, ", "))
		}
		if n := batch.Failed(); n > 0 {
			return fmt.Errorf("%d of %d restarts failed (batch %s)", n, len(batch.Outcomes), batch.BatchID)
		}
		return nil
	},
}

func formatOutcome(o *model.RestartOutcome) string {
	target := o.PaneID
	if o.Target != "" && o.Target != o.PaneID {
		target = fmt.Sprintf("%s (%s)", o.Target, o.PaneID)
	}
	line := fmt.Sprintf("%s: %s %s", target, o.Agent, o.Status)
	if o.Resumed {
		line += ", session continued"
	}
	if o.ResumeToken != "" {
		line += ", token " + o.ResumeToken
	}
	if o.Error != "" {
		line += ": " + o.Error
	}
	return line
}

func init() {
	restartCmd.Flags().StringVarP(&flagRestartAgent, "agent", "a", "", "agent to relaunch: "+strings.Join(agent.KindNames(), ", "))
	restartCmd.Flags().BoolVarP(&flagRestartContinue, "continue", "c", false, "resume the previous session")
	restartCmd.Flags().BoolVar(&flagRestartAll, "all", false, "restart every pane running the agent")
	restartCmd.Flags().StringVar(&flagRestartScope, "scope", "", "with --all, limit to one session")
	restartCmd.Flags().BoolVar(&flagRestartStopOnFailure, "stop-on-failure", false, "with --all, skip the remaining panes after a failure")
	restartCmd.Flags().BoolVar(&flagRestartNoVerify, "no-verify", false, "do not check the agent came back")
	_ = restartCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(restartCmd)
}
