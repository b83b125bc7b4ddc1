package model

import (
	"fmt"
	"strings"
	"time"
)

// PaneRef describes one terminal multiplexer pane as observed right now.
// It is re-queried on every inventory call and never cached.
type PaneRef struct {
	// PaneID is the stable multiplexer-assigned identity (e.g., "%12").
	PaneID string `json:"pane_id"`
	// SessionName is the owning session's name.
	SessionName string `json:"session"`
	// WindowID is the stable window identity (e.g., "@3").
	WindowID string `json:"window_id"`
	// WindowIndex is the window's position within its session.
	WindowIndex int `json:"window_index"`
	// WindowName is the window's display name.
	WindowName string `json:"window_name"`
	// PaneIndex is the pane's position within its window.
	PaneIndex int `json:"pane_index"`
	// PID is the pane's shell process ID.
	PID int `json:"pid"`
	// Active reports whether this is the active pane of its window.
	Active bool `json:"active"`
	// Command is the foreground command running in the pane (e.g., "claude", "zsh").
	Command string `json:"command"`
	// WorkingDir is the pane's current working directory.
	WorkingDir string `json:"working_dir"`
	// Title is the pane title as set by the running program.
	Title string `json:"title"`
}

// Target returns the symbolic "session:window.pane" form of the pane.
func (p PaneRef) Target() string {
	return fmt.Sprintf("%s:%d.%d", p.SessionName, p.WindowIndex, p.PaneIndex)
}

// SessionRef describes one multiplexer session.
type SessionRef struct {
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	Windows  int       `json:"windows"`
	Attached bool      `json:"attached"`
	Created  time.Time `json:"created"`
}

// WindowRef describes one window within a session.
type WindowRef struct {
	ID          string `json:"id"`
	SessionName string `json:"session"`
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Panes       int    `json:"panes"`
}

// CaptureMode selects whether agent chrome is stripped before a capture is
// returned or compared.
type CaptureMode string

const (
	ModeFiltered CaptureMode = "filtered"
	ModeRaw      CaptureMode = "raw"
)

// ParseCaptureMode maps a user-supplied mode onto a CaptureMode.
// An empty string selects ModeFiltered.
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeFiltered):
		return ModeFiltered, nil
	case string(ModeRaw):
		return ModeRaw, nil
	default:
		return "", fmt.Errorf("%w: unknown capture mode %q (supported: filtered, raw)", ErrInvalidArgument, s)
	}
}

// RestartStatus is the terminal state of one restart run.
type RestartStatus string

const (
	// RestartUnchecked means the relaunch was sent but verification was skipped.
	RestartUnchecked RestartStatus = "unchecked"
	// RestartRunning means the pane's foreground command matched the agent binary.
	RestartRunning RestartStatus = "running"
	// RestartFailed means verification observed a different foreground command.
	RestartFailed RestartStatus = "failed"
)

// RestartOutcome is the transient result of restarting the agent in one pane.
type RestartOutcome struct {
	PaneID string `json:"pane_id"`
	Target string `json:"target,omitempty"`
	Agent  string `json:"agent"`
	// CommandLine is the exact shell line typed into the pane.
	CommandLine string        `json:"command_line"`
	Status      RestartStatus `json:"status"`
	// ObservedCommand is the foreground command seen during verification.
	ObservedCommand string `json:"observed_command,omitempty"`
	// ResumeToken is the session token recovered from the pane, if any.
	ResumeToken string `json:"resume_token,omitempty"`
	// Resumed reports whether the relaunch continues the previous session.
	Resumed bool   `json:"resumed"`
	Error   string `json:"error,omitempty"`
}

// BatchOutcome collects the outcomes of one sequential restart batch.
type BatchOutcome struct {
	BatchID  string           `json:"batch_id"`
	Outcomes []RestartOutcome `json:"outcomes"`
	// Skipped lists pane IDs that were never attempted because the batch aborted.
	Skipped []string `json:"skipped,omitempty"`
	Aborted bool     `json:"aborted"`
}

// Failed returns the number of outcomes that did not end running or unchecked.
func (b *BatchOutcome) Failed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Status == RestartFailed || o.Error != "" {
			n++
		}
	}
	return n
}
