package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux/muxtest"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

var (
	claudePane = model.PaneRef{PaneID: "%1", SessionName: "dev", WindowID: "@1", WindowIndex: 0, PaneIndex: 0, Command: "claude"}
	codexPane  = model.PaneRef{PaneID: "%2", SessionName: "dev", WindowID: "@2", WindowIndex: 1, PaneIndex: 0, Command: "codex"}
	shellPane  = model.PaneRef{PaneID: "%3", SessionName: "ops", WindowID: "@3", WindowIndex: 0, PaneIndex: 0, Command: "zsh"}
	otherAgent = model.PaneRef{PaneID: "%4", SessionName: "ops", WindowID: "@4", WindowIndex: 1, PaneIndex: 0, Command: "claude"}
)

// connect starts a server over f and returns a client session talking to it
// through in-memory transports.
func connect(t *testing.T, f *muxtest.Fake, defaults RestartDefaults) *mcpsdk.ClientSession {
	t.Helper()
	engine := capture.NewEngine(f)
	engine.VolatileTail = 0
	ctl := lifecycle.NewController(f)
	ctl.Sleep = noSleep
	t.Cleanup(ctl.Close)

	s := New("test", f, engine, ctl, defaults)
	s.sleep = noSleep

	ctx := context.Background()
	st, ct := mcpsdk.NewInMemoryTransports()
	_, err := s.mcpServer.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

func TestToolsRegistered(t *testing.T) {
	cs := connect(t, muxtest.New(), RestartDefaults{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"capture", "delta_capture",
		"list_panes", "list_sessions", "list_windows",
		"restart_agent", "restart_agent_batch",
		"send_text", "send_key",
		"create_session", "create_window", "kill_session", "kill_window",
	}, names)
}

func TestCaptureModes(t *testing.T) {
	f := muxtest.New(claudePane)
	screen := []string{"● Done editing main.go", "", strings.Repeat("─", 80), "❯ fix the tests", strings.Repeat("─", 80), "  ? for shortcuts"}
	f.SetCapture("%1", screen)
	cs := connect(t, f, RestartDefaults{})

	text, isErr := call(t, cs, "capture", map[string]any{"target": "dev:0.0"})
	assert.False(t, isErr)
	assert.Equal(t, "● Done editing main.go", text)

	text, isErr = call(t, cs, "capture", map[string]any{"target": "%1", "mode": "raw"})
	assert.False(t, isErr)
	assert.Contains(t, text, "? for shortcuts")
}

func TestCaptureErrors(t *testing.T) {
	cs := connect(t, muxtest.New(claudePane), RestartDefaults{})

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"unknown pane", map[string]any{"target": "%99"}, "target not found"},
		{"empty target", map[string]any{"target": ""}, "invalid arguments"},
		{"too many lines", map[string]any{"target": "%1", "lines": 4001}, "invalid arguments"},
		{"unknown mode", map[string]any{"target": "%1", "mode": "pretty"}, "invalid arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, cs, "capture", tt.args)
			assert.True(t, isErr)
			assert.True(t, strings.HasPrefix(text, tt.want), "got %q", text)
		})
	}
}

func TestDeltaCaptureFlow(t *testing.T) {
	f := muxtest.New(claudePane)
	before := []string{"A1", "A2", "A3", "A4", "A5"}
	after := append(append([]string(nil), before...), "B1", "B2")
	f.SetCapture("%1", before, before, after)
	cs := connect(t, f, RestartDefaults{})
	args := map[string]any{"pane_id": "%1", "mode": "raw"}

	text, isErr := call(t, cs, "delta_capture", args)
	require.False(t, isErr)
	assert.True(t, strings.HasPrefix(text, "[first check] pane %1 (raw)"), text)
	assert.Contains(t, text, "A5")

	text, isErr = call(t, cs, "delta_capture", args)
	require.False(t, isErr)
	assert.True(t, strings.HasPrefix(text, "[no new output]"), text)

	args["overlap"] = 1
	text, isErr = call(t, cs, "delta_capture", args)
	require.False(t, isErr)
	assert.Equal(t, "[new output] pane %1 (raw): 2 new lines, 1 overlap\nA5\nB1\nB2\n", text)
}

func TestDeltaCaptureRejectsBadArguments(t *testing.T) {
	cs := connect(t, muxtest.New(claudePane), RestartDefaults{})

	for _, args := range []map[string]any{
		{"pane_id": "%1", "overlap": 51},
		{"pane_id": "%1", "overlap": -1},
		{"pane_id": "%1", "max_lines": 5000},
		{"pane_id": ""},
	} {
		text, isErr := call(t, cs, "delta_capture", args)
		assert.True(t, isErr, "args %v", args)
		assert.Contains(t, text, "invalid arguments")
	}
}

func TestDeltaCaptureOverlapZeroIsExplicit(t *testing.T) {
	f := muxtest.New(claudePane)
	f.SetCapture("%1", []string{"A1", "A2", "A3"}, []string{"A1", "A2", "A3", "B1"})
	cs := connect(t, f, RestartDefaults{})

	_, _ = call(t, cs, "delta_capture", map[string]any{"pane_id": "%1", "mode": "raw"})
	text, isErr := call(t, cs, "delta_capture", map[string]any{"pane_id": "%1", "mode": "raw", "overlap": 0})
	require.False(t, isErr)
	assert.Equal(t, "[new output] pane %1 (raw): 1 new lines, 0 overlap\nB1\n", text)
}

func TestListPanes(t *testing.T) {
	cs := connect(t, muxtest.New(claudePane, codexPane, shellPane), RestartDefaults{})

	text, isErr := call(t, cs, "list_panes", nil)
	require.False(t, isErr)
	var panes []model.PaneRef
	require.NoError(t, json.Unmarshal([]byte(text), &panes))
	assert.Len(t, panes, 3)

	text, _ = call(t, cs, "list_panes", map[string]any{"scope": "ops"})
	require.NoError(t, json.Unmarshal([]byte(text), &panes))
	require.Len(t, panes, 1)
	assert.Equal(t, "%3", panes[0].PaneID)

	text, _ = call(t, cs, "list_panes", map[string]any{"scope": "nope"})
	assert.Equal(t, "[]", text)
}

func TestListSessionsAndWindows(t *testing.T) {
	f := muxtest.New(claudePane)
	f.Sessions = []model.SessionRef{{Name: "dev", ID: "$0", Windows: 2}}
	f.Windows = []model.WindowRef{{ID: "@1", SessionName: "dev", Index: 0}, {ID: "@2", SessionName: "dev", Index: 1}}
	cs := connect(t, f, RestartDefaults{})

	text, isErr := call(t, cs, "list_sessions", nil)
	require.False(t, isErr)
	var sessions []model.SessionRef
	require.NoError(t, json.Unmarshal([]byte(text), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "dev", sessions[0].Name)

	text, isErr = call(t, cs, "list_windows", map[string]any{"scope": "dev"})
	require.False(t, isErr)
	var windows []model.WindowRef
	require.NoError(t, json.Unmarshal([]byte(text), &windows))
	assert.Len(t, windows, 2)
}

func TestRestartAgent(t *testing.T) {
	f := muxtest.New(claudePane)
	cs := connect(t, f, RestartDefaults{ControlPlaneConfig: "/etc/relay/mcp.json"})

	text, isErr := call(t, cs, "restart_agent", map[string]any{
		"target":           "%1",
		"agent":            "claude",
		"continue_session": true,
		"ctrl_c_count":     3,
	})
	require.False(t, isErr, text)

	var out model.RestartOutcome
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, model.RestartRunning, out.Status)
	assert.True(t, out.Resumed)
	assert.Equal(t, "claude --continue --dangerously-skip-permissions --mcp-config /etc/relay/mcp.json", out.CommandLine)

	var keys []string
	for _, s := range f.SendsTo("%1") {
		keys = append(keys, s.Text)
	}
	assert.Equal(t, []string{"C-c", "C-c", "C-c", "C-u", out.CommandLine, "Enter"}, keys)
}

func TestRestartWaitKnobs(t *testing.T) {
	f := muxtest.New(claudePane)
	ctl := lifecycle.NewController(f)
	t.Cleanup(ctl.Close)
	s := New("test", f, capture.NewEngine(f), ctl, RestartDefaults{
		Settle:      800 * time.Millisecond,
		VerifyDelay: 2 * time.Second,
	})
	zero, half := 0, 500

	tests := []struct {
		name                string
		knobs               restartKnobs
		settle, verifyDelay time.Duration
	}{
		{"absent selects defaults", restartKnobs{}, 800 * time.Millisecond, 2 * time.Second},
		{"explicit zero means no wait", restartKnobs{settleMs: &zero, verifyDelayMs: &zero}, 0, 0},
		{"explicit value", restartKnobs{settleMs: &half, verifyDelayMs: &half}, 500 * time.Millisecond, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := s.restartOptions("claude", tt.knobs)
			require.NoError(t, err)
			assert.Equal(t, tt.settle, opts.Settle)
			assert.Equal(t, tt.verifyDelay, opts.VerifyDelay)
		})
	}
}

func TestRestartAgentVerificationFailure(t *testing.T) {
	f := muxtest.New(claudePane)
	f.SetField("%1", "#{pane_current_command}", "zsh")
	cs := connect(t, f, RestartDefaults{})

	text, isErr := call(t, cs, "restart_agent", map[string]any{"target": "%1", "agent": "claude"})
	require.True(t, isErr)

	var out model.RestartOutcome
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, model.RestartFailed, out.Status)
	assert.Equal(t, "zsh", out.ObservedCommand)
	assert.Contains(t, out.Error, "verification failed")
}

func TestRestartAgentSkipVerify(t *testing.T) {
	f := muxtest.New(claudePane)
	f.SetField("%1", "#{pane_current_command}", "zsh")
	cs := connect(t, f, RestartDefaults{})

	text, isErr := call(t, cs, "restart_agent", map[string]any{"target": "%1", "agent": "claude", "verify": false})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"status": "unchecked"`)
}

func TestRestartAgentRejectsBadArguments(t *testing.T) {
	cs := connect(t, muxtest.New(claudePane), RestartDefaults{})

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"unknown agent", map[string]any{"target": "%1", "agent": "vim"}, "invalid arguments"},
		{"too many interrupts", map[string]any{"target": "%1", "agent": "claude", "ctrl_c_count": 6}, "invalid arguments"},
		{"delay too short", map[string]any{"target": "%1", "agent": "claude", "ctrl_c_delay_ms": 50}, "invalid arguments"},
		{"negative settle", map[string]any{"target": "%1", "agent": "claude", "settle_ms": -1}, "invalid arguments"},
		{"unknown pane", map[string]any{"target": "%9", "agent": "claude"}, "target not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, cs, "restart_agent", tt.args)
			assert.True(t, isErr)
			assert.True(t, strings.HasPrefix(text, tt.want), "got %q", text)
		})
	}
}

func TestRestartBatch(t *testing.T) {
	f := muxtest.New(claudePane, codexPane, shellPane, otherAgent)
	cs := connect(t, f, RestartDefaults{ExcludeSessions: []string{"op*"}})

	text, isErr := call(t, cs, "restart_agent_batch", map[string]any{"agent": "claude"})
	require.False(t, isErr, text)

	var batch model.BatchOutcome
	require.NoError(t, json.Unmarshal([]byte(text), &batch))
	require.Len(t, batch.Outcomes, 1)
	assert.Equal(t, "%1", batch.Outcomes[0].PaneID)
	assert.Equal(t, "dev:0.0", batch.Outcomes[0].Target)
	assert.NotEmpty(t, batch.BatchID)
	assert.Empty(t, f.SendsTo("%4"))
}

func TestRestartBatchStopOnFailure(t *testing.T) {
	second := model.PaneRef{PaneID: "%5", SessionName: "dev", WindowID: "@5", WindowIndex: 2, Command: "claude"}
	f := muxtest.New(claudePane, second)
	f.SetField("%1", "#{pane_current_command}", "zsh")
	cs := connect(t, f, RestartDefaults{})

	text, isErr := call(t, cs, "restart_agent_batch", map[string]any{"agent": "claude", "stop_on_failure": true})
	require.True(t, isErr)

	var batch model.BatchOutcome
	require.NoError(t, json.Unmarshal([]byte(text), &batch))
	assert.True(t, batch.Aborted)
	assert.Len(t, batch.Outcomes, 1)
	assert.Equal(t, []string{"%5"}, batch.Skipped)
}

func TestSendText(t *testing.T) {
	f := muxtest.New(claudePane)
	cs := connect(t, f, RestartDefaults{})

	_, isErr := call(t, cs, "send_text", map[string]any{"target": "dev:0.0", "text": "run the tests"})
	require.False(t, isErr)
	_, isErr = call(t, cs, "send_text", map[string]any{"target": "%1", "text": "draft", "enter": false})
	require.False(t, isErr)

	assert.Equal(t, []muxtest.Send{
		{PaneID: "%1", Text: "run the tests", Literal: true},
		{PaneID: "%1", Text: "Enter"},
		{PaneID: "%1", Text: "draft", Literal: true},
	}, f.Sends())
}

func TestSendKey(t *testing.T) {
	f := muxtest.New(claudePane)
	cs := connect(t, f, RestartDefaults{})

	_, isErr := call(t, cs, "send_key", map[string]any{"target": "%1", "key": "Escape"})
	require.False(t, isErr)

	text, isErr := call(t, cs, "send_key", map[string]any{"target": "%1", "key": "hello"})
	assert.True(t, isErr)
	assert.Contains(t, text, "send_text")

	assert.Equal(t, []muxtest.Send{{PaneID: "%1", Text: "Escape"}}, f.Sends())
}

func TestSessionAndWindowManagement(t *testing.T) {
	f := muxtest.New()
	cs := connect(t, f, RestartDefaults{})

	paneID, isErr := call(t, cs, "create_session", map[string]any{"name": "work", "dir": "/src", "command": "claude"})
	require.False(t, isErr)
	assert.Equal(t, "%new1", paneID)

	text, isErr := call(t, cs, "create_session", map[string]any{"name": "work"})
	assert.True(t, isErr)
	assert.Contains(t, text, "duplicate session")

	paneID, isErr = call(t, cs, "create_window", map[string]any{"session": "work", "name": "logs"})
	require.False(t, isErr)
	assert.Equal(t, "%new2", paneID)

	_, isErr = call(t, cs, "create_window", map[string]any{"session": "missing"})
	assert.True(t, isErr)

	_, isErr = call(t, cs, "kill_window", map[string]any{"target": "%new2"})
	require.False(t, isErr)
	assert.Len(t, f.ListPanes(context.Background(), ""), 1)

	_, isErr = call(t, cs, "kill_session", map[string]any{"name": "work"})
	require.False(t, isErr)
	assert.Empty(t, f.ListPanes(context.Background(), ""))

	text, isErr = call(t, cs, "kill_session", map[string]any{"name": "work"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "target not found"), text)
}
