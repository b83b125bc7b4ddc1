package watch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
)

// Restarter restarts the agent in one pane.
type Restarter interface {
	Restart(ctx context.Context, target string, opts lifecycle.Options) (*model.RestartOutcome, error)
}

// TUI runs the interactive monitor.
type TUI struct {
	Poller    *Poller
	Restarter Restarter
	// Mux receives typed text.
	Mux mux.Multiplexer
	// RestartOptions are the knobs for restarts; Kind and Continue are set
	// per restart.
	RestartOptions  lifecycle.Options
	RefreshInterval time.Duration
	ThemeName       string
	// Jump switches the attached client to a pane; nil disables jumping.
	Jump func(paneID string) error
}

type viewMode int

const (
	modeList viewMode = iota
	modeTextInput
)

type keyMap struct {
	Up, Down, Jump, Restart, Fresh, Type, Reset, Refresh, Quit key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Jump:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "jump")),
		Restart: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "restart+continue")),
		Fresh:   key.NewBinding(key.WithKeys("N"), key.WithHelp("N", "restart fresh")),
		Type:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "type")),
		Reset:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) hints() []key.Binding {
	return []key.Binding{k.Jump, k.Restart, k.Fresh, k.Type, k.Reset, k.Refresh, k.Quit}
}

// row is a pane together with what the monitor remembers about it across
// polls.
type row struct {
	state PaneState
	// tail is the most recent output seen; it survives polls with nothing new.
	tail         []string
	lastActivity time.Time
	restarting   bool
}

// messages
type pollResultMsg struct{ snap *Snapshot }

type tickMsg struct{}

type restartDoneMsg struct {
	paneID string
	out    *model.RestartOutcome
	err    error
}

type sentMsg struct {
	paneID string
	text   string
	err    error
}

type resetMsg struct {
	paneID string
	res    *capture.DeltaResult
	err    error
}

type tuiModel struct {
	cfg    *TUI
	ctx    context.Context
	styles styles
	keys   keyMap

	spinner   spinner.Model
	textInput textinput.Model
	mode      viewMode
	textPane  string

	rows   []row
	cursor int

	width  int
	height int

	polling   bool
	pollCount int
	message   string
}

func newModel(ctx context.Context, t *TUI) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a line and press Enter..."
	ti.CharLimit = 4096
	ti.Width = 80

	return &tuiModel{
		cfg:       t,
		ctx:       ctx,
		styles:    newStyles(ThemeByName(t.ThemeName)),
		keys:      defaultKeys(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		textInput: ti,
	}
}

func (t *TUI) Run(ctx context.Context) error {
	p := tea.NewProgram(newModel(ctx, t), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *tuiModel) Init() tea.Cmd {
	m.polling = true
	return tea.Batch(m.spinner.Tick, m.doPoll())
}

func (m *tuiModel) doPoll() tea.Cmd {
	poller, ctx := m.cfg.Poller, m.ctx
	return func() tea.Msg {
		return pollResultMsg{snap: poller.Poll(ctx)}
	}
}

// scheduleTick returns nil when auto-refresh is disabled.
func (m *tuiModel) scheduleTick() tea.Cmd {
	if m.cfg.RefreshInterval <= 0 {
		return nil
	}
	return tea.Tick(m.cfg.RefreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// applySnapshot merges a poll into the rows, keeping each pane's tail and
// the cursor's pane.
func (m *tuiModel) applySnapshot(snap *Snapshot) {
	selected := m.selectedPaneID()
	prev := make(map[string]row, len(m.rows))
	for _, r := range m.rows {
		prev[r.state.Pane.PaneID] = r
	}

	rows := make([]row, 0, len(snap.Panes))
	for _, st := range snap.Panes {
		r := prev[st.Pane.PaneID]
		r.state = st
		if st.Err == "" && st.Status != capture.StatusNoChange {
			r.tail = st.New
			r.lastActivity = snap.At
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].state.Pane, rows[j].state.Pane
		if a.SessionName != b.SessionName {
			return a.SessionName < b.SessionName
		}
		if a.WindowIndex != b.WindowIndex {
			return a.WindowIndex < b.WindowIndex
		}
		return a.PaneIndex < b.PaneIndex
	})
	m.rows = rows

	m.cursor = 0
	for i, r := range m.rows {
		if r.state.Pane.PaneID == selected {
			m.cursor = i
		}
	}
}

func (m *tuiModel) selected() *row {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return &m.rows[m.cursor]
}

func (m *tuiModel) selectedPaneID() string {
	if r := m.selected(); r != nil {
		return r.state.Pane.PaneID
	}
	return ""
}

func (m *tuiModel) rowFor(paneID string) *row {
	for i := range m.rows {
		if m.rows[i].state.Pane.PaneID == paneID {
			return &m.rows[i]
		}
	}
	return nil
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeTextInput {
			return m.handleTextInputKey(msg)
		}
		return m.handleListKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollResultMsg:
		m.polling = false
		m.pollCount++
		m.applySnapshot(msg.snap)
		return m, m.scheduleTick()

	case tickMsg:
		if m.polling || m.mode == modeTextInput {
			return m, m.scheduleTick()
		}
		m.polling = true
		return m, m.doPoll()

	case restartDoneMsg:
		if r := m.rowFor(msg.paneID); r != nil {
			r.restarting = false
		}
		m.message = restartMessage(msg)
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Send to %s failed: %v", msg.paneID, msg.err)
		} else {
			m.message = fmt.Sprintf("Sent '%s' to %s", truncate(msg.text, 40), msg.paneID)
		}
		return m, nil

	case resetMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Reset %s failed: %v", msg.paneID, msg.err)
			return m, nil
		}
		if r := m.rowFor(msg.paneID); r != nil {
			r.tail = msg.res.Lines
			r.state.Status = msg.res.Status
		}
		m.message = "Baseline reset for " + msg.paneID
		return m, nil
	}
	return m, nil
}

func restartMessage(msg restartDoneMsg) string {
	switch {
	case msg.out == nil:
		return fmt.Sprintf("Restart %s failed: %v", msg.paneID, msg.err)
	case msg.err != nil:
		return fmt.Sprintf("Restart %s %s: %v", msg.paneID, msg.out.Status, msg.err)
	case msg.out.Resumed:
		return fmt.Sprintf("Restarted %s in %s, session continued (%s)", msg.out.Agent, msg.paneID, msg.out.Status)
	default:
		return fmt.Sprintf("Restarted %s in %s (%s)", msg.out.Agent, msg.paneID, msg.out.Status)
	}
}

func (m *tuiModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Jump):
		r := m.selected()
		if r == nil || m.cfg.Jump == nil {
			return m, nil
		}
		if err := m.cfg.Jump(r.state.Pane.PaneID); err != nil {
			m.message = fmt.Sprintf("Jump failed: %v", err)
		}

	case key.Matches(msg, m.keys.Restart):
		return m, m.restartSelected(true)

	case key.Matches(msg, m.keys.Fresh):
		return m, m.restartSelected(false)

	case key.Matches(msg, m.keys.Type):
		r := m.selected()
		if r == nil {
			return m, nil
		}
		m.mode = modeTextInput
		m.textPane = r.state.Pane.PaneID
		m.textInput.SetValue("")
		m.textInput.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Reset):
		r := m.selected()
		if r == nil {
			return m, nil
		}
		poller, ctx, paneID := m.cfg.Poller, m.ctx, r.state.Pane.PaneID
		return m, func() tea.Msg {
			res, err := poller.Reset(ctx, paneID)
			return resetMsg{paneID: paneID, res: res, err: err}
		}

	case key.Matches(msg, m.keys.Refresh):
		if m.polling {
			return m, nil
		}
		m.polling = true
		m.message = ""
		return m, m.doPoll()
	}
	return m, nil
}

// restartSelected starts a restart of the selected pane's agent. Restarts of
// the same pane do not stack.
func (m *tuiModel) restartSelected(cont bool) tea.Cmd {
	r := m.selected()
	if r == nil || r.restarting || m.cfg.Restarter == nil {
		return nil
	}
	r.restarting = true
	paneID := r.state.Pane.PaneID
	opts := m.cfg.RestartOptions
	opts.Kind = r.state.Kind
	opts.Continue = cont
	m.message = fmt.Sprintf("Restarting %s in %s...", opts.Kind.Name, paneID)
	log.Info("restart requested", "pane", paneID, "agent", opts.Kind.Name, "continue", cont)

	restarter, ctx := m.cfg.Restarter, m.ctx
	return func() tea.Msg {
		out, err := restarter.Restart(ctx, paneID, opts)
		return restartDoneMsg{paneID: paneID, out: out, err: err}
	}
}

func (m *tuiModel) handleTextInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		m.textPane = ""
		m.textInput.Blur()
		return m, nil

	case "enter":
		text := m.textInput.Value()
		paneID := m.textPane
		m.mode = modeList
		m.textPane = ""
		m.textInput.Blur()
		if text == "" || m.cfg.Mux == nil {
			return m, nil
		}
		mx, ctx := m.cfg.Mux, m.ctx
		return m, func() tea.Msg {
			err := lifecycle.TypeLine(ctx, mx, lifecycle.Sleep, paneID, text, true)
			return sentMsg{paneID: paneID, text: text, err: err}
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.mode == modeTextInput {
		return m.viewTextInput()
	}
	return m.viewList()
}

// Column widths of the pane list.
const (
	targetWidth = 18
	agentWidth  = 6
	statusWidth = 13
	ageWidth    = 5
	listWidth   = 4 + targetWidth + 1 + agentWidth + 1 + statusWidth + 1 + ageWidth
)

func (m *tuiModel) viewList() string {
	var b strings.Builder
	s := m.styles

	b.WriteString(s.title.Render("pane-relay watch"))
	b.WriteString("  ")
	var hints []string
	for _, k := range m.keys.hints() {
		hints = append(hints, k.Help().Key+"="+k.Help().Desc)
	}
	b.WriteString(s.dim.Render(strings.Join(hints, "  ")))
	if m.polling {
		b.WriteString("  ")
		b.WriteString(s.warn.Render(m.spinner.View() + " polling"))
	}
	b.WriteString("\n")

	if len(m.rows) == 0 {
		if m.polling {
			b.WriteString("  Polling panes...\n")
		} else {
			b.WriteString("  No agent panes found.\n")
		}
		return b.String()
	}

	previewWidth := max(m.width-listWidth-3, 20)
	panelHeight := max(m.height-3, 3)

	// Keep the cursor inside the visible window.
	start, end := 0, min(len(m.rows), panelHeight)
	if m.cursor >= end {
		end = m.cursor + 1
		start = end - panelHeight
	}

	preview := m.previewLines(panelHeight, previewWidth)
	sep := s.border.Render(" │ ")
	line := 0
	for i := start; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString(sep)
		if line < len(preview) {
			b.WriteString(preview[line])
		}
		b.WriteString("\n")
		line++
	}
	for ; line < len(preview); line++ {
		b.WriteString(strings.Repeat(" ", listWidth))
		b.WriteString(sep)
		b.WriteString(preview[line])
		b.WriteString("\n")
	}

	active := 0
	for _, r := range m.rows {
		if r.state.Status == capture.StatusNewOutput || r.state.Status == capture.StatusGap {
			active++
		}
	}
	summary := fmt.Sprintf("  %d agent panes | %d with new output | poll #%d", len(m.rows), active, m.pollCount)
	if start > 0 || end < len(m.rows) {
		summary += fmt.Sprintf(" | showing %d-%d", start+1, end)
	}
	b.WriteString(s.dim.Render(summary))
	b.WriteString("\n")
	if m.message != "" {
		b.WriteString(s.dim.Render("  " + m.message))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *tuiModel) renderRow(i int) string {
	r := m.rows[i]
	s := m.styles
	cols := fmt.Sprintf("%s %s %s %s",
		fit(r.state.Pane.Target(), targetWidth),
		fit(r.state.Kind.Name, agentWidth),
		fit(statusText(r), statusWidth),
		fit(formatAge(r.lastActivity, time.Now()), ageWidth))

	if i == m.cursor {
		return s.selected.Render("→ " + iconText(r) + " " + cols)
	}
	return "  " + m.icon(r) + " " + cols
}

// previewLines renders the newest output of the selected pane, bottom
// aligned in a panel of the given height.
func (m *tuiModel) previewLines(height, width int) []string {
	r := m.selected()
	if r == nil {
		return nil
	}
	s := m.styles
	lines := []string{s.dim.Render(truncate(r.state.Pane.PaneID+"  "+r.state.Pane.WorkingDir, width))}
	if r.state.Err != "" {
		lines = append(lines, s.err.Render(truncate(r.state.Err, width)))
	}
	tail := r.tail
	if room := height - len(lines); len(tail) > room {
		tail = tail[len(tail)-max(room, 0):]
	}
	for _, l := range tail {
		lines = append(lines, truncate(l, width))
	}
	return lines
}

func (m *tuiModel) icon(r row) string {
	s := m.styles
	switch {
	case r.restarting:
		return s.warn.Render(iconText(r))
	case r.state.Err != "":
		return s.err.Render(iconText(r))
	case r.state.Status == capture.StatusGap:
		return s.warn.Render(iconText(r))
	case r.state.Status == capture.StatusNoChange:
		return s.dim.Render(iconText(r))
	default:
		return s.fresh.Render(iconText(r))
	}
}

func iconText(r row) string {
	switch {
	case r.restarting:
		return "↻"
	case r.state.Err != "":
		return "✗"
	case r.state.Status == capture.StatusGap:
		return "⚠"
	case r.state.Status == capture.StatusNoChange:
		return "·"
	default:
		return "●"
	}
}

func statusText(r row) string {
	switch {
	case r.restarting:
		return "restarting"
	case r.state.Err != "":
		return "error"
	}
	return r.state.Status
}

func (m *tuiModel) viewTextInput() string {
	var b strings.Builder
	b.WriteString(m.styles.title.Render("  Type into " + m.textPane))
	b.WriteString("\n")
	b.WriteString(m.styles.border.Render("  " + strings.Repeat("─", 41)))
	b.WriteString("\n\n")
	b.WriteString(m.styles.dim.Render("  Enter=send  Esc=cancel"))
	b.WriteString("\n\n")
	b.WriteString("  " + m.textInput.View())
	b.WriteString("\n")
	return b.String()
}

// formatAge renders the time since t compactly, or "-" when t is unset.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// truncate cuts s to at most width terminal cells.
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// fit truncates or pads s to exactly width cells.
func fit(s string, width int) string {
	return runewidth.FillRight(truncate(s, width), width)
}
