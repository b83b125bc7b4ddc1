package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	ppotel "github.com/timvw/pane-relay/internal/otel"
)

// fieldSep separates list fields. It is multi-character so it cannot be
// confused with anything a session, window or path normally contains, and it
// is not a tab since older tmux versions do not special-case tabs in -F.
const fieldSep = "|:|"

// Default subprocess timeouts.
const (
	DefaultReadTimeout  = 8 * time.Second
	DefaultWriteTimeout = 8 * time.Second
)

var paneFields = []string{
	"#{pane_id}",
	"#{session_name}",
	"#{window_id}",
	"#{window_index}",
	"#{window_name}",
	"#{pane_index}",
	"#{pane_pid}",
	"#{pane_active}",
	"#{pane_current_command}",
	"#{pane_current_path}",
	"#{pane_title}",
}

var sessionFields = []string{
	"#{session_name}",
	"#{session_id}",
	"#{session_windows}",
	"#{session_attached}",
	"#{session_created}",
}

var windowFields = []string{
	"#{window_id}",
	"#{session_name}",
	"#{window_index}",
	"#{window_name}",
	"#{window_active}",
	"#{window_panes}",
}

var log = logging.ForComponent(logging.CompMux)

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct {
	// Binary is the tmux executable (default "tmux").
	Binary string
	// ReadTimeout bounds list/capture/query calls.
	ReadTimeout time.Duration
	// WriteTimeout bounds send-keys and session/window management calls.
	WriteTimeout time.Duration
	// MaxCaptureBytes caps capture output; larger output fails the capture.
	MaxCaptureBytes int
	// Metrics records subprocess durations; nil-safe.
	Metrics *ppotel.Metrics
}

// NewTmux creates a tmux multiplexer with default limits.
func NewTmux() *Tmux {
	return &Tmux{
		Binary:          "tmux",
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		MaxCaptureBytes: DefaultMaxCaptureBytes,
	}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// Resolve returns the canonical pane id for target.
func (t *Tmux) Resolve(ctx context.Context, target string) (string, error) {
	id, err := t.QueryField(ctx, target, "#{pane_id}")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: pane %q", model.ErrNotFound, target)
	}
	return id, nil
}

// QueryField evaluates a format string against target via display-message.
func (t *Tmux) QueryField(ctx context.Context, target, format string) (string, error) {
	out, err := t.run(ctx, t.ReadTimeout, 0, "display-message", "-p", "-t", target, format)
	if err != nil {
		return "", classify(err, model.ErrCaptureFailed, "display-message -t %s", target)
	}
	return strings.TrimRight(out, "\r\n"), nil
}

// ListPanes lists panes across all sessions, or within scope.
func (t *Tmux) ListPanes(ctx context.Context, scope string) []model.PaneRef {
	args := []string{"list-panes"}
	if scope == "" {
		args = append(args, "-a")
	} else {
		args = append(args, "-s", "-t", scope)
	}
	args = append(args, "-F", strings.Join(paneFields, fieldSep))

	out, err := t.run(ctx, t.ReadTimeout, 0, args...)
	if err != nil {
		log.Debug("list-panes failed", "scope", scope, "error", err)
		return []model.PaneRef{}
	}
	return parsePanes(out)
}

// ListSessions lists all sessions.
func (t *Tmux) ListSessions(ctx context.Context) []model.SessionRef {
	out, err := t.run(ctx, t.ReadTimeout, 0, "list-sessions", "-F", strings.Join(sessionFields, fieldSep))
	if err != nil {
		log.Debug("list-sessions failed", "error", err)
		return []model.SessionRef{}
	}
	return parseSessions(out)
}

// ListWindows lists windows across all sessions, or within scope.
func (t *Tmux) ListWindows(ctx context.Context, scope string) []model.WindowRef {
	args := []string{"list-windows"}
	if scope == "" {
		args = append(args, "-a")
	} else {
		args = append(args, "-t", scope)
	}
	args = append(args, "-F", strings.Join(windowFields, fieldSep))

	out, err := t.run(ctx, t.ReadTimeout, 0, args...)
	if err != nil {
		log.Debug("list-windows failed", "scope", scope, "error", err)
		return []model.WindowRef{}
	}
	return parseWindows(out)
}

// CapturePane captures the pane's live screen plus opts.Lines of scrollback.
// Uses -S -N without -E so the visible tail is always included.
func (t *Tmux) CapturePane(ctx context.Context, target string, opts CaptureOptions) ([]string, error) {
	lines := opts.Lines
	if lines <= 0 {
		lines = DefaultCaptureLines
	}
	if lines > MaxCaptureLines {
		lines = MaxCaptureLines
	}

	args := []string{"capture-pane", "-p", "-t", target, "-S", "-" + strconv.Itoa(lines)}
	if opts.JoinWrapped {
		args = append(args, "-J")
	}

	out, err := t.run(ctx, t.ReadTimeout, t.maxCaptureBytes(), args...)
	if err != nil {
		return nil, classify(err, model.ErrCaptureFailed, "capture-pane -t %s", target)
	}
	return SplitLines(out), nil
}

// SendLiteral types text with send-keys -l so tmux does not interpret key names.
func (t *Tmux) SendLiteral(ctx context.Context, target, text string) error {
	if _, err := t.run(ctx, t.WriteTimeout, 0, "send-keys", "-t", target, "-l", "--", text); err != nil {
		return classify(err, model.ErrCommandFailed, "send-keys -l -t %s", target)
	}
	return nil
}

// SendKey sends one named key such as "C-c" or "Enter".
func (t *Tmux) SendKey(ctx context.Context, target, key string) error {
	if _, err := t.run(ctx, t.WriteTimeout, 0, "send-keys", "-t", target, key); err != nil {
		return classify(err, model.ErrCommandFailed, "send-keys -t %s %s", target, key)
	}
	return nil
}

// NewSession creates a detached session and returns its first pane id.
func (t *Tmux) NewSession(ctx context.Context, name, dir, command string) (string, error) {
	args := []string{"new-session", "-d", "-P", "-F", "#{pane_id}", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	out, err := t.run(ctx, t.WriteTimeout, 0, args...)
	if err != nil {
		return "", classify(err, model.ErrCommandFailed, "new-session -s %s", name)
	}
	return strings.TrimSpace(out), nil
}

// NewWindow creates a window in session and returns its pane id.
func (t *Tmux) NewWindow(ctx context.Context, session, name, dir, command string) (string, error) {
	// Trailing colon targets the session itself, letting tmux pick the index.
	args := []string{"new-window", "-d", "-P", "-F", "#{pane_id}", "-t", session + ":"}
	if name != "" {
		args = append(args, "-n", name)
	}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	out, err := t.run(ctx, t.WriteTimeout, 0, args...)
	if err != nil {
		return "", classify(err, model.ErrCommandFailed, "new-window -t %s", session)
	}
	return strings.TrimSpace(out), nil
}

// KillSession destroys a session.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	if _, err := t.run(ctx, t.WriteTimeout, 0, "kill-session", "-t", name); err != nil {
		return classify(err, model.ErrCommandFailed, "kill-session -t %s", name)
	}
	return nil
}

// KillWindow destroys the window containing target.
func (t *Tmux) KillWindow(ctx context.Context, target string) error {
	if _, err := t.run(ctx, t.WriteTimeout, 0, "kill-window", "-t", target); err != nil {
		return classify(err, model.ErrCommandFailed, "kill-window -t %s", target)
	}
	return nil
}

func (t *Tmux) maxCaptureBytes() int {
	if t.MaxCaptureBytes <= 0 {
		return DefaultMaxCaptureBytes
	}
	return t.MaxCaptureBytes
}

// errOutputTooLarge is returned by run when stdout exceeds its limit.
var errOutputTooLarge = errors.New("output exceeds size limit")

// ErrTimeout is wrapped into errors from calls that ran past their own
// timeout. The command may still have taken effect.
var ErrTimeout = errors.New("tmux call timed out")

// notFoundError marks tmux stderr that means the target does not exist.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

// run executes one tmux command with a timeout and an optional stdout cap.
func (t *Tmux) run(parent context.Context, timeout time.Duration, limit int, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	bin := t.Binary
	if bin == "" {
		bin = "tmux"
	}

	var stdout limitedBuffer
	stdout.limit = limit
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	defer func() { t.Metrics.RecordTmuxCall(parent, args[0], time.Since(start), err) }()

	switch {
	case stdout.overflow:
		err = fmt.Errorf("%w (%d bytes)", errOutputTooLarge, limit)
		return "", err
	case parent.Err() != nil:
		err = fmt.Errorf("%s: %w", args[0], parent.Err())
		return "", err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		return "", err
	case err != nil:
		msg := strings.TrimSpace(stderr.String())
		if isNotFoundMessage(msg) {
			err = &notFoundError{msg: msg}
			return "", err
		}
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

// classify wraps a run error with the taxonomy sentinel it belongs to.
func classify(err error, kind error, format string, a ...any) error {
	what := fmt.Sprintf(format, a...)
	var nf *notFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s: %s", model.ErrNotFound, what, nf.msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, what, err)
}

func isNotFoundMessage(msg string) bool {
	return strings.Contains(msg, "can't find") ||
		strings.Contains(msg, "no such") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "session not found")
}

// limitedBuffer stops accepting data once limit bytes have been written.
// A zero limit means unbounded. The buffer is a named field so io.Copy
// cannot reach bytes.Buffer.ReadFrom and skip the limit.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit > 0 && b.buf.Len()+len(p) > b.limit {
		b.overflow = true
		return 0, errOutputTooLarge
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Len() int       { return b.buf.Len() }
func (b *limitedBuffer) String() string { return b.buf.String() }

// SplitLines splits captured text into lines and drops trailing blank lines,
// which cursor and box rendering leave behind.
func SplitLines(out string) []string {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	return TrimTrailingBlank(lines)
}

// TrimTrailingBlank returns lines without its trailing whitespace-only lines.
func TrimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

func parsePanes(out string) []model.PaneRef {
	panes := []model.PaneRef{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.SplitN(line, fieldSep, len(paneFields))
		if len(f) != len(paneFields) {
			continue
		}
		windowIndex, err1 := strconv.Atoi(f[3])
		paneIndex, err2 := strconv.Atoi(f[5])
		if err1 != nil || err2 != nil {
			continue
		}
		pid, _ := strconv.Atoi(f[6])
		panes = append(panes, model.PaneRef{
			PaneID:      f[0],
			SessionName: f[1],
			WindowID:    f[2],
			WindowIndex: windowIndex,
			WindowName:  f[4],
			PaneIndex:   paneIndex,
			PID:         pid,
			Active:      f[7] == "1",
			Command:     f[8],
			WorkingDir:  f[9],
			Title:       f[10],
		})
	}
	return panes
}

func parseSessions(out string) []model.SessionRef {
	sessions := []model.SessionRef{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.SplitN(line, fieldSep, len(sessionFields))
		if len(f) != len(sessionFields) {
			continue
		}
		windows, _ := strconv.Atoi(f[2])
		attached, _ := strconv.Atoi(f[3])
		s := model.SessionRef{
			Name:     f[0],
			ID:       f[1],
			Windows:  windows,
			Attached: attached > 0,
		}
		if created, err := strconv.ParseInt(f[4], 10, 64); err == nil && created > 0 {
			s.Created = time.Unix(created, 0).UTC()
		}
		sessions = append(sessions, s)
	}
	return sessions
}

func parseWindows(out string) []model.WindowRef {
	windows := []model.WindowRef{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.SplitN(line, fieldSep, len(windowFields))
		if len(f) != len(windowFields) {
			continue
		}
		index, err := strconv.Atoi(f[2])
		if err != nil {
			continue
		}
		panes, _ := strconv.Atoi(f[5])
		windows = append(windows, model.WindowRef{
			ID:          f[0],
			SessionName: f[1],
			Index:       index,
			Name:        f[3],
			Active:      f[4] == "1",
			Panes:       panes,
		})
	}
	return windows
}
