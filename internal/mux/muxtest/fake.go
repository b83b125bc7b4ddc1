// Package muxtest provides an in-memory mux.Multiplexer for tests.
package muxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
)

// Send is one recorded keystroke call.
type Send struct {
	PaneID  string
	Text    string
	Literal bool
}

// Fake is a scriptable Multiplexer. Captures are served from a per-pane
// queue; the last entry repeats once the queue is drained.
type Fake struct {
	mu sync.Mutex

	Panes    []model.PaneRef
	Sessions []model.SessionRef
	Windows  []model.WindowRef

	captures map[string][][]string
	fields   map[string]map[string][]string
	sends    []Send
	opts     []mux.CaptureOptions

	// CaptureErr, when set, is returned by every CapturePane call.
	CaptureErr error
	// SendErr, when set, is returned by SendLiteral and SendKey. SendKeyErr
	// overrides it for specific key names.
	SendErr    error
	SendKeyErr map[string]error

	// CallDelay makes every write call hold for a moment so overlapping
	// callers would be observable through MaxInFlight.
	CallDelay time.Duration

	inFlight    int
	maxInFlight int
	created     int
}

// New returns a Fake serving the given panes.
func New(panes ...model.PaneRef) *Fake {
	return &Fake{
		Panes:      panes,
		captures:   make(map[string][][]string),
		fields:     make(map[string]map[string][]string),
		SendKeyErr: make(map[string]error),
	}
}

// SetCapture queues one or more successive captures for a pane.
func (f *Fake) SetCapture(paneID string, captures ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[paneID] = append(f.captures[paneID], captures...)
}

// SetField queues successive values for a QueryField format on a pane.
func (f *Fake) SetField(paneID, format string, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fields[paneID] == nil {
		f.fields[paneID] = make(map[string][]string)
	}
	f.fields[paneID][format] = append(f.fields[paneID][format], values...)
}

// Sends returns a copy of every recorded keystroke call.
func (f *Fake) Sends() []Send {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Send(nil), f.sends...)
}

// SendsTo returns the recorded keystroke calls for one pane.
func (f *Fake) SendsTo(paneID string) []Send {
	var out []Send
	for _, s := range f.Sends() {
		if s.PaneID == paneID {
			out = append(out, s)
		}
	}
	return out
}

// CaptureCalls returns the options of every CapturePane call in order.
func (f *Fake) CaptureCalls() []mux.CaptureOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mux.CaptureOptions(nil), f.opts...)
}

// MaxInFlight reports the highest number of overlapping write calls seen.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *Fake) Name() string { return "fake" }

// Resolve accepts a pane id or a "session:window.pane" target.
func (f *Fake) Resolve(_ context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lookup(target)
	if !ok {
		return "", fmt.Errorf("%w: pane %q", model.ErrNotFound, target)
	}
	return p.PaneID, nil
}

// QueryField serves queued values, then falls back to the pane's own fields.
func (f *Fake) QueryField(_ context.Context, target, format string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lookup(target)
	if !ok {
		return "", fmt.Errorf("%w: pane %q", model.ErrNotFound, target)
	}
	if q := f.fields[p.PaneID][format]; len(q) > 0 {
		v := q[0]
		if len(q) > 1 {
			f.fields[p.PaneID][format] = q[1:]
		}
		return v, nil
	}
	switch format {
	case "#{pane_id}":
		return p.PaneID, nil
	case "#{pane_current_command}":
		return p.Command, nil
	case "#{pane_current_path}":
		return p.WorkingDir, nil
	}
	return "", nil
}

func (f *Fake) ListPanes(_ context.Context, scope string) []model.PaneRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.PaneRef{}
	for _, p := range f.Panes {
		if scope == "" || p.SessionName == scope || p.SessionName+":"+fmt.Sprint(p.WindowIndex) == scope {
			out = append(out, p)
		}
	}
	return out
}

func (f *Fake) ListSessions(_ context.Context) []model.SessionRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SessionRef{}, f.Sessions...)
}

func (f *Fake) ListWindows(_ context.Context, scope string) []model.WindowRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.WindowRef{}
	for _, w := range f.Windows {
		if scope == "" || w.SessionName == scope {
			out = append(out, w)
		}
	}
	return out
}

func (f *Fake) CapturePane(_ context.Context, target string, opts mux.CaptureOptions) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: pane %q", model.ErrNotFound, target)
	}
	f.opts = append(f.opts, opts)
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	q := f.captures[p.PaneID]
	if len(q) == 0 {
		return []string{}, nil
	}
	lines := q[0]
	if len(q) > 1 {
		f.captures[p.PaneID] = q[1:]
	}
	return mux.TrimTrailingBlank(append([]string(nil), lines...)), nil
}

func (f *Fake) SendLiteral(ctx context.Context, target, text string) error {
	return f.send(ctx, target, text, true)
}

func (f *Fake) SendKey(ctx context.Context, target, key string) error {
	return f.send(ctx, target, key, false)
}

func (f *Fake) send(ctx context.Context, target, text string, literal bool) error {
	f.mu.Lock()
	p, ok := f.lookup(target)
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: pane %q", model.ErrNotFound, target)
	}
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.CallDelay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, Send{PaneID: p.PaneID, Text: text, Literal: literal})
	if !literal {
		if err := f.SendKeyErr[text]; err != nil {
			return err
		}
	}
	return f.SendErr
}

func (f *Fake) NewSession(_ context.Context, name, dir, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.Sessions {
		if s.Name == name {
			return "", fmt.Errorf("%w: duplicate session: %s", model.ErrCommandFailed, name)
		}
	}
	f.Sessions = append(f.Sessions, model.SessionRef{Name: name, Windows: 1})
	return f.addPane(name, 0, name, dir, command), nil
}

func (f *Fake) NewWindow(_ context.Context, session, name, dir, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	index := 0
	found := false
	for i := range f.Sessions {
		if f.Sessions[i].Name == session {
			found = true
			index = f.Sessions[i].Windows
			f.Sessions[i].Windows++
		}
	}
	if !found {
		return "", fmt.Errorf("%w: session %q", model.ErrNotFound, session)
	}
	return f.addPane(session, index, name, dir, command), nil
}

func (f *Fake) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Sessions[:0]
	found := false
	for _, s := range f.Sessions {
		if s.Name == name {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return fmt.Errorf("%w: session %q", model.ErrNotFound, name)
	}
	f.Sessions = kept
	f.removePanes(func(p model.PaneRef) bool { return p.SessionName == name })
	return nil
}

func (f *Fake) KillWindow(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lookup(target)
	if !ok {
		return fmt.Errorf("%w: window %q", model.ErrNotFound, target)
	}
	f.removePanes(func(q model.PaneRef) bool { return q.WindowID == p.WindowID })
	return nil
}

// addPane must be called with f.mu held.
func (f *Fake) addPane(session string, windowIndex int, name, dir, command string) string {
	f.created++
	id := fmt.Sprintf("%%new%d", f.created)
	if command == "" {
		command = "zsh"
	}
	f.Panes = append(f.Panes, model.PaneRef{
		PaneID:      id,
		SessionName: session,
		WindowID:    fmt.Sprintf("@new%d", f.created),
		WindowIndex: windowIndex,
		WindowName:  name,
		Command:     strings.Fields(command)[0],
		WorkingDir:  dir,
	})
	return id
}

func (f *Fake) removePanes(drop func(model.PaneRef) bool) {
	kept := f.Panes[:0]
	for _, p := range f.Panes {
		if !drop(p) {
			kept = append(kept, p)
		}
	}
	f.Panes = kept
}

// lookup must be called with f.mu held.
func (f *Fake) lookup(target string) (model.PaneRef, bool) {
	for _, p := range f.Panes {
		if p.PaneID == target || p.Target() == target {
			return p, true
		}
	}
	return model.PaneRef{}, false
}

var _ mux.Multiplexer = (*Fake)(nil)
