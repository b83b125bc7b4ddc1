package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux/muxtest"
)

var (
	claudePane = model.PaneRef{PaneID: "%1", SessionName: "dev", WindowIndex: 0, Command: "claude", WorkingDir: "/src/api"}
	codexPane  = model.PaneRef{PaneID: "%2", SessionName: "dev", WindowIndex: 1, Command: "codex"}
	shellPane  = model.PaneRef{PaneID: "%3", SessionName: "dev", WindowIndex: 2, Command: "zsh"}
	opsPane    = model.PaneRef{PaneID: "%4", SessionName: "ops", WindowIndex: 0, Command: "claude"}
)

func newPoller(f *muxtest.Fake) *Poller {
	return &Poller{Mux: f, Engine: capture.NewEngine(f), Mode: model.ModeRaw, Parallel: 2}
}

func TestPollSelectsAgentPanes(t *testing.T) {
	f := muxtest.New(claudePane, codexPane, shellPane, opsPane)
	f.SetCapture("%1", []string{"building"})
	f.SetCapture("%2", []string{"thinking"})
	p := newPoller(f)
	p.ExcludeSessions = []string{"ops"}
	p.SelfPaneID = "%2"

	snap := p.Poll(context.Background())
	require.Len(t, snap.Panes, 1)
	st := snap.Panes[0]
	assert.Equal(t, "%1", st.Pane.PaneID)
	assert.Same(t, agent.Claude, st.Kind)
	assert.Equal(t, capture.StatusFirstCheck, st.Status)
	assert.Equal(t, []string{"building"}, st.New)
}

func TestPollReportsCaptureErrorsPerPane(t *testing.T) {
	f := muxtest.New(claudePane, codexPane)
	f.CaptureErr = errors.New("tmux went away")

	snap := newPoller(f).Poll(context.Background())
	require.Len(t, snap.Panes, 2)
	for _, st := range snap.Panes {
		assert.Contains(t, st.Err, "tmux went away")
	}
}

func TestPollCapturesEveryPaneWithUnsetParallelism(t *testing.T) {
	f := muxtest.New(claudePane, codexPane, opsPane)
	f.SetCapture("%1", []string{"one"})
	f.SetCapture("%2", []string{"two"})
	f.SetCapture("%4", []string{"four"})
	p := newPoller(f)
	p.Parallel = 0

	snap := p.Poll(context.Background())
	require.Len(t, snap.Panes, 3)
	got := map[string][]string{}
	for _, st := range snap.Panes {
		assert.Empty(t, st.Err)
		got[st.Pane.PaneID] = st.New
	}
	assert.Equal(t, map[string][]string{"%1": {"one"}, "%2": {"two"}, "%4": {"four"}}, got)
}

func TestPollThenResetReturnsScreen(t *testing.T) {
	f := muxtest.New(claudePane)
	f.SetCapture("%1", []string{"a"}, []string{"a"}, []string{"a", "b"})
	p := newPoller(f)
	ctx := context.Background()

	p.Poll(ctx)
	snap := p.Poll(ctx)
	assert.Equal(t, capture.StatusNoChange, snap.Panes[0].Status)

	res, err := p.Reset(ctx, "%1")
	require.NoError(t, err)
	assert.Equal(t, capture.StatusReset, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.Lines)
}

func newTestModel(t *TUI) *tuiModel {
	m := newModel(context.Background(), t)
	m.width = 120
	m.height = 20
	return m
}

func state(p model.PaneRef, status string, lines ...string) PaneState {
	return PaneState{Pane: p, Kind: agent.KindForCommand(p.Command), Status: status, New: lines}
}

func TestApplySnapshotKeepsTailWhenNothingChanged(t *testing.T) {
	m := newTestModel(&TUI{})
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m.applySnapshot(&Snapshot{At: first, Panes: []PaneState{state(claudePane, capture.StatusFirstCheck, "hello")}})
	m.applySnapshot(&Snapshot{At: first.Add(time.Minute), Panes: []PaneState{state(claudePane, capture.StatusNoChange)}})

	require.Len(t, m.rows, 1)
	assert.Equal(t, []string{"hello"}, m.rows[0].tail)
	assert.Equal(t, first, m.rows[0].lastActivity)
	assert.Equal(t, capture.StatusNoChange, m.rows[0].state.Status)
}

func TestApplySnapshotSortsAndFollowsCursor(t *testing.T) {
	m := newTestModel(&TUI{})
	m.applySnapshot(&Snapshot{Panes: []PaneState{
		state(opsPane, capture.StatusFirstCheck),
		state(codexPane, capture.StatusFirstCheck),
	}})
	require.Equal(t, "%2", m.rows[0].state.Pane.PaneID)
	m.cursor = 1 // %4

	m.applySnapshot(&Snapshot{Panes: []PaneState{
		state(opsPane, capture.StatusNoChange),
		state(claudePane, capture.StatusFirstCheck),
		state(codexPane, capture.StatusNoChange),
	}})
	assert.Equal(t, []string{"%1", "%2", "%4"}, []string{
		m.rows[0].state.Pane.PaneID, m.rows[1].state.Pane.PaneID, m.rows[2].state.Pane.PaneID,
	})
	assert.Equal(t, "%4", m.selectedPaneID())
}

func TestListNavigation(t *testing.T) {
	m := newTestModel(&TUI{})
	m.applySnapshot(&Snapshot{Panes: []PaneState{state(claudePane, ""), state(codexPane, "")}})

	press := func(k tea.KeyMsg) { _, _ = m.Update(k) }
	press(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.cursor)
	press(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	assert.Equal(t, 1, m.cursor)
	press(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	press(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	assert.Equal(t, 0, m.cursor)
}

type fakeRestarter struct {
	mu    sync.Mutex
	calls []lifecycle.Options
	err   error
}

func (f *fakeRestarter) Restart(_ context.Context, target string, opts lifecycle.Options) (*model.RestartOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	status := model.RestartRunning
	if f.err != nil {
		status = model.RestartFailed
	}
	return &model.RestartOutcome{PaneID: target, Agent: opts.Kind.Name, Status: status, Resumed: opts.Continue}, f.err
}

func TestRestartKeys(t *testing.T) {
	r := &fakeRestarter{}
	m := newTestModel(&TUI{Restarter: r, RestartOptions: lifecycle.Options{InterruptCount: 3}})
	m.applySnapshot(&Snapshot{Panes: []PaneState{state(codexPane, capture.StatusNoChange)}})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'R'}})
	require.NotNil(t, cmd)
	assert.True(t, m.rows[0].restarting)

	// A second press while the first restart runs is ignored.
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'N'}})
	assert.Nil(t, again)

	_, _ = m.Update(cmd())
	assert.False(t, m.rows[0].restarting)
	assert.Contains(t, m.message, "session continued")

	require.Len(t, r.calls, 1)
	assert.Same(t, agent.Codex, r.calls[0].Kind)
	assert.True(t, r.calls[0].Continue)
	assert.Equal(t, 3, r.calls[0].InterruptCount)

	r.err = errors.New("verification failed")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'N'}})
	require.NotNil(t, cmd)
	_, _ = m.Update(cmd())
	assert.False(t, r.calls[1].Continue)
	assert.Contains(t, m.message, "failed")
}

func TestTypeLineIntoPane(t *testing.T) {
	f := muxtest.New(claudePane)
	m := newTestModel(&TUI{Mux: f})
	m.applySnapshot(&Snapshot{Panes: []PaneState{state(claudePane, capture.StatusNoChange)}})

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	require.Equal(t, modeTextInput, m.mode)
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("go on")})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, modeList, m.mode)

	_, _ = m.Update(cmd())
	assert.Contains(t, m.message, "Sent 'go on' to %1")
	assert.Equal(t, []muxtest.Send{
		{PaneID: "%1", Text: "go on", Literal: true},
		{PaneID: "%1", Text: "Enter"},
	}, f.Sends())
}

func TestTypeEscapeCancels(t *testing.T) {
	m := newTestModel(&TUI{Mux: muxtest.New(claudePane)})
	m.applySnapshot(&Snapshot{Panes: []PaneState{state(claudePane, "")}})

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.Equal(t, modeList, m.mode)
}

func TestJumpReportsFailure(t *testing.T) {
	var jumped string
	m := newTestModel(&TUI{Jump: func(paneID string) error {
		jumped = paneID
		return errors.New("no client")
	}})
	m.applySnapshot(&Snapshot{Panes: []PaneState{state(claudePane, "")}})

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "%1", jumped)
	assert.Contains(t, m.message, "no client")
}

func TestViewShowsPanesAndPreview(t *testing.T) {
	m := newTestModel(&TUI{})
	assert.Contains(t, m.View(), "No agent panes found.")

	m.applySnapshot(&Snapshot{At: time.Now(), Panes: []PaneState{
		state(claudePane, capture.StatusNewOutput, "● Edited handler.go", "  tests pass"),
		{Pane: codexPane, Kind: agent.Codex, Err: "capture failed: timeout"},
	}})
	m.pollCount = 4

	view := m.View()
	assert.Contains(t, view, "dev:0.0")
	assert.Contains(t, view, "dev:1.0")
	assert.Contains(t, view, "● Edited handler.go")
	assert.Contains(t, view, "/src/api")
	assert.Contains(t, view, "2 agent panes | 1 with new output | poll #4")

	m.cursor = 1
	assert.Contains(t, m.View(), "capture failed: timeout")
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "-"},
		{now.Add(-12 * time.Second), "12s"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-50 * time.Hour), "2d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAge(tt.at, now))
	}
}

func TestFitUsesCellWidth(t *testing.T) {
	assert.Equal(t, "ab  ", fit("ab", 4))
	assert.Equal(t, "abc…", fit("abcdefg", 4))
	assert.Equal(t, "世界", truncate("世界", 4))
	assert.Equal(t, 4, runewidth.StringWidth(fit("世", 4)))
}
