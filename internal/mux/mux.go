// Package mux provides an abstraction over terminal multiplexers.
//
// This package is pure transport. It lists sessions, windows and panes,
// captures pane text and types keystrokes, without interpreting any of it.
// Every method is one bounded subprocess call.
package mux

import (
	"context"

	"github.com/timvw/pane-relay/internal/model"
)

// Capture limits.
const (
	// DefaultCaptureLines is how far back into scrollback a capture reaches.
	DefaultCaptureLines = 500
	// MaxCaptureLines is the largest window a caller may request.
	MaxCaptureLines = 4000
	// DefaultMaxCaptureBytes caps the size of one capture's output.
	DefaultMaxCaptureBytes = 10 * 1024 * 1024
)

// CaptureOptions bounds a single capture.
type CaptureOptions struct {
	// Lines is how many scrollback lines to include above the live screen.
	// Zero selects DefaultCaptureLines.
	Lines int
	// JoinWrapped joins soft-wrapped lines back into one line.
	JoinWrapped bool
}

// Multiplexer abstracts the terminal multiplexer primitives the relay needs.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux").
	Name() string

	// Resolve maps a symbolic target (pane id or session:window[.pane]) to
	// the canonical pane id. Fails with model.ErrNotFound if it is gone.
	Resolve(ctx context.Context, target string) (string, error)

	// QueryField evaluates one format string (e.g. "#{pane_current_command}")
	// against a target.
	QueryField(ctx context.Context, target, format string) (string, error)

	// ListPanes returns all panes, or only those of scope when it is non-empty.
	// Failures yield an empty slice: "no sessions" and "could not ask" are
	// treated alike at this layer.
	ListPanes(ctx context.Context, scope string) []model.PaneRef

	// ListSessions returns all sessions; failures yield an empty slice.
	ListSessions(ctx context.Context) []model.SessionRef

	// ListWindows returns all windows, or only those of scope; failures
	// yield an empty slice.
	ListWindows(ctx context.Context, scope string) []model.WindowRef

	// CapturePane returns the pane text as lines with trailing blank lines
	// removed. Fails with model.ErrCaptureFailed or model.ErrNotFound.
	CapturePane(ctx context.Context, target string, opts CaptureOptions) ([]string, error)

	// SendLiteral types text into the pane without key-name interpretation.
	SendLiteral(ctx context.Context, target, text string) error

	// SendKey sends a single named key (e.g. "C-c", "Enter").
	SendKey(ctx context.Context, target, key string) error

	// NewSession creates a detached session and returns its first pane id.
	NewSession(ctx context.Context, name, dir, command string) (string, error)

	// NewWindow creates a window in session and returns its pane id.
	NewWindow(ctx context.Context, session, name, dir, command string) (string, error)

	// KillSession destroys a session.
	KillSession(ctx context.Context, name string) error

	// KillWindow destroys the window containing target.
	KillWindow(ctx context.Context, target string) error
}
