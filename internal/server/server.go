// Package server exposes pane-relay as an MCP tool server over stdio.
//
// Every tool returns one text payload. Failures of the requested action come
// back as a result with IsError set, never as a protocol error, so the calling
// model sees the message.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
)

const ServerName = "pane-relay"

var log = logging.ForComponent(logging.CompServer)

// RestartDefaults fill in restart knobs a tool call leaves unset.
type RestartDefaults struct {
	InterruptCount     int
	InterruptDelay     time.Duration
	Settle             time.Duration
	VerifyDelay        time.Duration
	ControlPlaneConfig string
	EnvFile            string
	ExcludeSessions    []string
}

// Server is the MCP server for pane-relay.
type Server struct {
	mcpServer *mcpsdk.Server
	mux       mux.Multiplexer
	engine    *capture.Engine
	lifecycle *lifecycle.Controller
	defaults  RestartDefaults
	sleep     lifecycle.SleepFunc
}

// New creates a server over the given components and registers its tools.
func New(version string, m mux.Multiplexer, engine *capture.Engine, ctl *lifecycle.Controller, defaults RestartDefaults) *Server {
	s := &Server{
		mux:       m,
		engine:    engine,
		lifecycle: ctl,
		defaults:  defaults,
		sleep:     lifecycle.Sleep,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	log.Info("serving on stdio")
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "capture",
		Description: "Capture the text of a tmux pane. Reads the visible screen plus up to `lines` of scrollback (default capture_lines from config, 500 unless set; max 4000). Mode 'filtered' (default) strips the agent's input box and status chrome; 'raw' returns everything.",
	}, s.handleCapture)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delta_capture",
		Description: "Return only the output a pane produced since the previous delta_capture of the same pane and mode. The first call (or reset=true) returns the current screen and starts tracking. 'gap detected' means more output scrolled by than the capture window holds; the full capture is returned. overlap (0-50, default 5) adds already-seen lines before new output; max_lines (default 40, max 4000) keeps the most recent lines.",
	}, s.handleDeltaCapture)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_panes",
		Description: "List tmux panes with their id, session, window, foreground command and working directory. Optional scope limits to one session.",
	}, s.handleListPanes)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_sessions",
		Description: "List tmux sessions.",
	}, s.handleListSessions)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_windows",
		Description: "List tmux windows. Optional scope limits to one session.",
	}, s.handleListWindows)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "restart_agent",
		Description: "Restart the coding agent in a pane: interrupt it with Ctrl-C, relaunch it (optionally continuing its previous session) and verify the pane is running the agent again. Agents: " + strings.Join(agent.KindNames(), ", ") + ".",
	}, s.handleRestartAgent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "restart_agent_batch",
		Description: "Restart every pane currently running the given agent, one at a time. With stop_on_failure the remaining panes are skipped after the first failure.",
	}, s.handleRestartBatch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "send_text",
		Description: "Type text into a pane as one literal burst, followed by Enter unless enter=false.",
	}, s.handleSendText)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "send_key",
		Description: "Send one named key to a pane, e.g. Enter, Escape, C-c, Up.",
	}, s.handleSendKey)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "create_session",
		Description: "Create a detached tmux session, optionally running a command. Returns the new pane id.",
	}, s.handleCreateSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "create_window",
		Description: "Create a window in an existing session, optionally running a command. Returns the new pane id.",
	}, s.handleCreateWindow)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "kill_session",
		Description: "Destroy a tmux session and everything running in it.",
	}, s.handleKillSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "kill_window",
		Description: "Destroy the window containing the target pane.",
	}, s.handleKillWindow)
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func jsonResult(v any) *mcpsdk.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encoding result: %w", err))
	}
	return textResult(string(data))
}

// errorResult turns err into a tool error the caller can read.
func errorResult(err error) *mcpsdk.CallToolResult {
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrNotFound):
		msg = "target not found: " + msg
	case errors.Is(err, model.ErrInvalidArgument):
		msg = "invalid arguments: " + msg
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidArgument, fmt.Sprintf(format, a...))
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", name)
	}
	return nil
}
