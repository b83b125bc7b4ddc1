package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
)

type CaptureInput struct {
	Target      string `json:"target" jsonschema:"pane id (e.g. %12) or session:window.pane"`
	Lines       int    `json:"lines,omitempty" jsonschema:"scrollback lines to include, 1-4000, default capture_lines (500)"`
	Mode        string `json:"mode,omitempty" jsonschema:"filtered (default) or raw"`
	JoinWrapped bool   `json:"join_wrapped,omitempty" jsonschema:"join soft-wrapped lines"`
}

func (s *Server) handleCapture(ctx context.Context, _ *mcpsdk.CallToolRequest, in CaptureInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("target", in.Target); err != nil {
		return errorResult(err), nil, nil
	}
	if in.Lines < 0 || in.Lines > mux.MaxCaptureLines {
		return errorResult(invalid("lines must be between 1 and %d, got %d", mux.MaxCaptureLines, in.Lines)), nil, nil
	}
	mode, err := model.ParseCaptureMode(in.Mode)
	if err != nil {
		return errorResult(err), nil, nil
	}

	res, err := s.engine.Capture(ctx, capture.Request{Target: in.Target, Lines: in.Lines, Mode: mode, JoinWrapped: in.JoinWrapped})
	if err != nil {
		log.Warn("capture failed", "target", in.Target, "error", err)
		return errorResult(err), nil, nil
	}
	return textResult(strings.Join(res.Lines, "\n")), nil, nil
}

type DeltaCaptureInput struct {
	PaneID   string `json:"pane_id" jsonschema:"pane id (e.g. %12) or session:window.pane"`
	Overlap  *int   `json:"overlap,omitempty" jsonschema:"already-seen lines to include before new output, 0-50, default 5"`
	Reset    bool   `json:"reset,omitempty" jsonschema:"discard the stored baseline and start over"`
	Mode     string `json:"mode,omitempty" jsonschema:"filtered (default) or raw"`
	MaxLines int    `json:"max_lines,omitempty" jsonschema:"most recent lines to return, 1-4000, default 40"`
}

func (s *Server) handleDeltaCapture(ctx context.Context, _ *mcpsdk.CallToolRequest, in DeltaCaptureInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("pane_id", in.PaneID); err != nil {
		return errorResult(err), nil, nil
	}
	overlap := capture.DefaultOverlap
	if in.Overlap != nil {
		overlap = *in.Overlap
	}
	if overlap < 0 || overlap > capture.MaxOverlap {
		return errorResult(invalid("overlap must be between 0 and %d, got %d", capture.MaxOverlap, overlap)), nil, nil
	}
	if in.MaxLines < 0 || in.MaxLines > mux.MaxCaptureLines {
		return errorResult(invalid("max_lines must be between 1 and %d, got %d", mux.MaxCaptureLines, in.MaxLines)), nil, nil
	}
	mode, err := model.ParseCaptureMode(in.Mode)
	if err != nil {
		return errorResult(err), nil, nil
	}

	res, err := s.engine.Delta(ctx, capture.DeltaRequest{
		Target:   in.PaneID,
		Mode:     mode,
		Overlap:  overlap,
		Reset:    in.Reset,
		MaxLines: in.MaxLines,
	})
	if err != nil {
		log.Warn("delta capture failed", "target", in.PaneID, "error", err)
		return errorResult(err), nil, nil
	}
	return textResult(res.Format()), nil, nil
}

type ScopeInput struct {
	Scope string `json:"scope,omitempty" jsonschema:"session name to limit the listing to"`
}

func (s *Server) handleListPanes(ctx context.Context, _ *mcpsdk.CallToolRequest, in ScopeInput) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(s.mux.ListPanes(ctx, in.Scope)), nil, nil
}

func (s *Server) handleListSessions(ctx context.Context, _ *mcpsdk.CallToolRequest, _ ScopeInput) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(s.mux.ListSessions(ctx)), nil, nil
}

func (s *Server) handleListWindows(ctx context.Context, _ *mcpsdk.CallToolRequest, in ScopeInput) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(s.mux.ListWindows(ctx, in.Scope)), nil, nil
}

// restartKnobs are the timing arguments shared by both restart tools.
type restartKnobs struct {
	continueSession bool
	ctrlCCount      int
	ctrlCDelayMs    int
	settleMs        *int
	verify          *bool
	verifyDelayMs   *int
}

func (s *Server) restartOptions(agentName string, k restartKnobs) (lifecycle.Options, error) {
	kind, err := agent.ParseKind(agentName)
	if err != nil {
		return lifecycle.Options{}, err
	}
	if k.ctrlCDelayMs < 0 || negative(k.settleMs) || negative(k.verifyDelayMs) {
		return lifecycle.Options{}, invalid("delays must not be negative")
	}
	opts := lifecycle.Options{
		Kind:               kind,
		Continue:           k.continueSession,
		InterruptCount:     k.ctrlCCount,
		InterruptDelay:     time.Duration(k.ctrlCDelayMs) * time.Millisecond,
		Settle:             millisOr(k.settleMs, s.defaults.Settle),
		VerifyDelay:        millisOr(k.verifyDelayMs, s.defaults.VerifyDelay),
		SkipVerify:         k.verify != nil && !*k.verify,
		ControlPlaneConfig: s.defaults.ControlPlaneConfig,
		EnvFile:            s.defaults.EnvFile,
	}
	if opts.InterruptCount == 0 {
		opts.InterruptCount = s.defaults.InterruptCount
	}
	if opts.InterruptDelay == 0 {
		opts.InterruptDelay = s.defaults.InterruptDelay
	}
	return opts, nil
}

func negative(ms *int) bool { return ms != nil && *ms < 0 }

// millisOr converts an optional millisecond argument; absent selects def.
func millisOr(ms *int, def time.Duration) time.Duration {
	if ms == nil {
		return def
	}
	return time.Duration(*ms) * time.Millisecond
}

type RestartInput struct {
	Target string `json:"target" jsonschema:"pane id (e.g. %12) or session:window.pane"`
	Agent  string `json:"agent" jsonschema:"agent to launch: claude or codex"`

	ContinueSession bool  `json:"continue_session,omitempty" jsonschema:"continue the agent's previous session"`
	CtrlCCount      int   `json:"ctrl_c_count,omitempty" jsonschema:"Ctrl-C presses, 1-5, default 2"`
	CtrlCDelayMs    int   `json:"ctrl_c_delay_ms,omitempty" jsonschema:"wait after each Ctrl-C in ms, 100-5000, default 600"`
	SettleMs        *int  `json:"settle_ms,omitempty" jsonschema:"wait before relaunching in ms, 0 for none, default 800"`
	Verify          *bool `json:"verify,omitempty" jsonschema:"check the agent is running afterwards, default true"`
	VerifyDelayMs   *int  `json:"verify_delay_ms,omitempty" jsonschema:"wait before verifying in ms, 0 for none, default 2000"`
}

func (in RestartInput) knobs() restartKnobs {
	return restartKnobs{in.ContinueSession, in.CtrlCCount, in.CtrlCDelayMs, in.SettleMs, in.Verify, in.VerifyDelayMs}
}

func (s *Server) handleRestartAgent(ctx context.Context, _ *mcpsdk.CallToolRequest, in RestartInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("target", in.Target); err != nil {
		return errorResult(err), nil, nil
	}
	opts, err := s.restartOptions(in.Agent, in.knobs())
	if err != nil {
		return errorResult(err), nil, nil
	}

	out, err := s.lifecycle.Restart(ctx, in.Target, opts)
	if err != nil {
		log.Warn("restart failed", "target", in.Target, "agent", in.Agent, "error", err)
		if out == nil {
			return errorResult(err), nil, nil
		}
		res := jsonResult(out)
		res.IsError = true
		return res, nil, nil
	}
	return jsonResult(out), nil, nil
}

type RestartBatchInput struct {
	Agent         string `json:"agent" jsonschema:"restart every pane running this agent: claude or codex"`
	Scope         string `json:"scope,omitempty" jsonschema:"session name to limit the batch to"`
	StopOnFailure bool   `json:"stop_on_failure,omitempty" jsonschema:"skip the remaining panes after the first failure"`

	ContinueSession bool  `json:"continue_session,omitempty" jsonschema:"continue the agent's previous session"`
	CtrlCCount      int   `json:"ctrl_c_count,omitempty" jsonschema:"Ctrl-C presses, 1-5, default 2"`
	CtrlCDelayMs    int   `json:"ctrl_c_delay_ms,omitempty" jsonschema:"wait after each Ctrl-C in ms, 100-5000, default 600"`
	SettleMs        *int  `json:"settle_ms,omitempty" jsonschema:"wait before relaunching in ms, 0 for none, default 800"`
	Verify          *bool `json:"verify,omitempty" jsonschema:"check the agent is running afterwards, default true"`
	VerifyDelayMs   *int  `json:"verify_delay_ms,omitempty" jsonschema:"wait before verifying in ms, 0 for none, default 2000"`
}

func (in RestartBatchInput) knobs() restartKnobs {
	return restartKnobs{in.ContinueSession, in.CtrlCCount, in.CtrlCDelayMs, in.SettleMs, in.Verify, in.VerifyDelayMs}
}

func (s *Server) handleRestartBatch(ctx context.Context, _ *mcpsdk.CallToolRequest, in RestartBatchInput) (*mcpsdk.CallToolResult, any, error) {
	opts, err := s.restartOptions(in.Agent, in.knobs())
	if err != nil {
		return errorResult(err), nil, nil
	}

	batch, err := s.lifecycle.RunBatch(ctx, lifecycle.BatchRequest{
		Scope:           in.Scope,
		ExcludeSessions: s.defaults.ExcludeSessions,
		StopOnFailure:   in.StopOnFailure,
		Options:         opts,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	res := jsonResult(batch)
	res.IsError = batch.Failed() > 0
	return res, nil, nil
}

type SendTextInput struct {
	Target string `json:"target" jsonschema:"pane id (e.g. %12) or session:window.pane"`
	Text   string `json:"text" jsonschema:"text to type"`
	Enter  *bool  `json:"enter,omitempty" jsonschema:"press Enter afterwards, default true"`
}

func (s *Server) handleSendText(ctx context.Context, _ *mcpsdk.CallToolRequest, in SendTextInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("target", in.Target); err != nil {
		return errorResult(err), nil, nil
	}
	paneID, err := s.mux.Resolve(ctx, in.Target)
	if err != nil {
		return errorResult(err), nil, nil
	}
	enter := in.Enter == nil || *in.Enter
	if err := lifecycle.TypeLine(ctx, s.mux, s.sleep, paneID, in.Text, enter); err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("sent %d bytes to %s", len(in.Text), paneID)), nil, nil
}

type SendKeyInput struct {
	Target string `json:"target" jsonschema:"pane id (e.g. %12) or session:window.pane"`
	Key    string `json:"key" jsonschema:"tmux key name, e.g. Enter, Escape, C-c, Up"`
}

func (s *Server) handleSendKey(ctx context.Context, _ *mcpsdk.CallToolRequest, in SendKeyInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("target", in.Target); err != nil {
		return errorResult(err), nil, nil
	}
	if !lifecycle.IsKeyName(in.Key) {
		return errorResult(invalid("%q is not a key name; use send_text for text", in.Key)), nil, nil
	}
	paneID, err := s.mux.Resolve(ctx, in.Target)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if err := s.mux.SendKey(ctx, paneID, in.Key); err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("sent %s to %s", in.Key, paneID)), nil, nil
}

type CreateSessionInput struct {
	Name    string `json:"name" jsonschema:"session name"`
	Dir     string `json:"dir,omitempty" jsonschema:"working directory"`
	Command string `json:"command,omitempty" jsonschema:"command to run instead of the default shell"`
}

func (s *Server) handleCreateSession(ctx context.Context, _ *mcpsdk.CallToolRequest, in CreateSessionInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("name", in.Name); err != nil {
		return errorResult(err), nil, nil
	}
	paneID, err := s.mux.NewSession(ctx, in.Name, in.Dir, in.Command)
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Info("session created", "session", in.Name, "pane", paneID)
	return textResult(paneID), nil, nil
}

type CreateWindowInput struct {
	Session string `json:"session" jsonschema:"session to add the window to"`
	Name    string `json:"name,omitempty" jsonschema:"window name"`
	Dir     string `json:"dir,omitempty" jsonschema:"working directory"`
	Command string `json:"command,omitempty" jsonschema:"command to run instead of the default shell"`
}

func (s *Server) handleCreateWindow(ctx context.Context, _ *mcpsdk.CallToolRequest, in CreateWindowInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("session", in.Session); err != nil {
		return errorResult(err), nil, nil
	}
	paneID, err := s.mux.NewWindow(ctx, in.Session, in.Name, in.Dir, in.Command)
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Info("window created", "session", in.Session, "pane", paneID)
	return textResult(paneID), nil, nil
}

type KillSessionInput struct {
	Name string `json:"name" jsonschema:"session name"`
}

func (s *Server) handleKillSession(ctx context.Context, _ *mcpsdk.CallToolRequest, in KillSessionInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("name", in.Name); err != nil {
		return errorResult(err), nil, nil
	}
	if err := s.mux.KillSession(ctx, in.Name); err != nil {
		return errorResult(err), nil, nil
	}
	log.Info("session killed", "session", in.Name)
	return textResult("killed session " + in.Name), nil, nil
}

type KillWindowInput struct {
	Target string `json:"target" jsonschema:"pane id or session:window of the window to destroy"`
}

func (s *Server) handleKillWindow(ctx context.Context, _ *mcpsdk.CallToolRequest, in KillWindowInput) (*mcpsdk.CallToolResult, any, error) {
	if err := required("target", in.Target); err != nil {
		return errorResult(err), nil, nil
	}
	if err := s.mux.KillWindow(ctx, in.Target); err != nil {
		return errorResult(err), nil, nil
	}
	log.Info("window killed", "target", in.Target)
	return textResult("killed window " + in.Target), nil, nil
}
