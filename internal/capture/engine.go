// Package capture turns raw pane captures into what a controller reads:
// one-shot captures and stateful delta captures that return only the lines
// that appeared since the previous observation of the same pane.
package capture

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	ppotel "github.com/timvw/pane-relay/internal/otel"
)

const (
	// AnchorLines is how many baseline lines must match contiguously to
	// locate the old end of output in a fresh capture.
	AnchorLines = 3
	// DefaultVolatileTail is how many trailing lines are ignored when
	// comparing; they hold status lines that redraw on every poll.
	DefaultVolatileTail = 10
	// DefaultMaxLines bounds how many lines a delta returns.
	DefaultMaxLines = 40
	// DefaultOverlap is how many already-seen lines precede new output.
	DefaultOverlap = 5
	// MaxOverlap is the largest overlap a caller may request.
	MaxOverlap = 50
)

// Delta statuses.
const (
	StatusReset      = "reset"
	StatusFirstCheck = "first check"
	StatusNoChange   = "no new output"
	StatusNewOutput  = "new output"
	StatusGap        = "gap detected"
)

var log = logging.ForComponent(logging.CompCapture)

// Engine captures panes and tracks per-pane baselines.
type Engine struct {
	Mux   mux.Multiplexer
	Store *BaselineStore

	// CaptureLines is the scrollback window of delta captures and of
	// one-shot captures that do not ask for their own.
	CaptureLines int
	// VolatileTail is excluded from comparison; negative means zero.
	VolatileTail int

	Tracer  trace.Tracer
	Metrics *ppotel.Metrics
}

// NewEngine creates an engine with default tuning and an empty store.
func NewEngine(m mux.Multiplexer) *Engine {
	return &Engine{
		Mux:          m,
		Store:        NewBaselineStore(),
		CaptureLines: mux.DefaultCaptureLines,
		VolatileTail: DefaultVolatileTail,
	}
}

// Request is a one-shot capture.
type Request struct {
	Target      string
	Lines       int
	Mode        model.CaptureMode
	JoinWrapped bool
}

// Result is a one-shot capture.
type Result struct {
	PaneID string
	Mode   model.CaptureMode
	Lines  []string
}

// Capture resolves the target and returns its text, chrome-stripped in
// filtered mode.
func (e *Engine) Capture(ctx context.Context, req Request) (*Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.ModeFiltered
	}
	window := req.Lines
	if window <= 0 {
		window = e.CaptureLines
	}
	paneID, lines, err := e.fresh(ctx, req.Target, mode, mux.CaptureOptions{Lines: window, JoinWrapped: req.JoinWrapped})
	if err != nil {
		return nil, err
	}
	return &Result{PaneID: paneID, Mode: mode, Lines: lines}, nil
}

// DeltaRequest is one delta capture.
type DeltaRequest struct {
	Target string
	Mode   model.CaptureMode
	// Overlap is how many already-seen lines to include before new output.
	Overlap int
	// Reset discards the stored baseline first.
	Reset bool
	// MaxLines bounds the returned lines; zero selects DefaultMaxLines.
	MaxLines int
}

// DeltaResult describes what changed since the previous observation.
type DeltaResult struct {
	PaneID string
	Mode   model.CaptureMode
	Status string
	// Lines is the returned slice after truncation.
	Lines []string
	// NewLines and OverlapLines are set for StatusNewOutput.
	NewLines     int
	OverlapLines int
	// Omitted is how many leading lines truncation dropped.
	Omitted int
}

// Delta captures the pane and returns only what is new relative to the
// stored baseline for (pane, mode), replacing the baseline as it goes.
func (e *Engine) Delta(ctx context.Context, req DeltaRequest) (res *DeltaResult, err error) {
	ctx, span := e.tracer().Start(ctx, "capture.delta",
		trace.WithAttributes(attribute.String("pane.target", req.Target)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("delta.status", res.Status))
			e.Metrics.RecordDelta(ctx, res.Status)
		}
		span.End()
	}()

	mode := req.Mode
	if mode == "" {
		mode = model.ModeFiltered
	}
	paneID, fresh, err := e.fresh(ctx, req.Target, mode, mux.CaptureOptions{Lines: e.CaptureLines})
	if err != nil {
		return nil, err
	}
	key := Key{PaneID: paneID, Mode: mode}

	res = &DeltaResult{PaneID: paneID, Mode: mode}
	base, ok := e.Store.Get(key)
	switch {
	case req.Reset:
		e.Store.Replace(key, fresh)
		res.Status = StatusReset
		res.Lines, res.Omitted = Truncate(fresh, req.MaxLines)
		return res, nil
	case !ok:
		e.Store.Replace(key, fresh)
		res.Status = StatusFirstCheck
		res.Lines, res.Omitted = Truncate(fresh, req.MaxLines)
		return res, nil
	}

	tail := e.volatileTail()
	if slices.Equal(dropTail(base.Lines, tail), dropTail(fresh, tail)) {
		e.Store.Touch(key)
		res.Status = StatusNoChange
		return res, nil
	}

	out, status, newCount, overlap := diff(base.Lines, fresh, tail, req.Overlap)
	e.Store.Replace(key, fresh)
	if status == StatusGap {
		log.Info("delta gap detected", "pane", paneID, "mode", mode, "lines", len(fresh))
	}

	res.Status = status
	res.NewLines = newCount
	res.OverlapLines = overlap
	res.Lines, res.Omitted = Truncate(out, req.MaxLines)
	return res, nil
}

// diff locates the end of the baseline in a differing fresh capture, with
// the volatile tail excluded. It returns the lines to report, the status,
// and the new and overlap counts.
func diff(baseline, fresh []string, tail, overlap int) ([]string, string, int, int) {
	tb := dropTail(baseline, tail)
	tf := dropTail(fresh, tail)

	anchor := tb[len(tb)-min(AnchorLines, len(tb)):]
	matchEnd := lastMatchEnd(tf, anchor)
	switch {
	case matchEnd < 0:
		return fresh, StatusGap, 0, 0
	case matchEnd >= len(tf):
		return nil, StatusNoChange, 0, 0
	}

	start := max(0, matchEnd-max(0, overlap))
	return fresh[start:], StatusNewOutput, len(fresh) - matchEnd, matchEnd - start
}

// lastMatchEnd scans right to left for the latest contiguous occurrence of
// anchor in lines and returns the index just past it, or -1. An empty anchor
// matches at the start.
func lastMatchEnd(lines, anchor []string) int {
	if len(anchor) == 0 {
		return 0
	}
	for start := len(lines) - len(anchor); start >= 0; start-- {
		if slices.Equal(lines[start:start+len(anchor)], anchor) {
			return start + len(anchor)
		}
	}
	return -1
}

// Truncate keeps the last maxLines lines and reports how many were dropped.
// A non-positive maxLines selects DefaultMaxLines.
func Truncate(lines []string, maxLines int) ([]string, int) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if len(lines) <= maxLines {
		return lines, 0
	}
	omitted := len(lines) - maxLines
	return lines[omitted:], omitted
}

// Format renders the result as the text payload returned to a controller.
func (r *DeltaResult) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] pane %s (%s)", r.Status, r.PaneID, r.Mode)
	if r.Status == StatusNewOutput {
		fmt.Fprintf(&b, ": %d new lines, %d overlap", r.NewLines, r.OverlapLines)
	}
	b.WriteByte('\n')
	if r.Omitted > 0 {
		fmt.Fprintf(&b, "… %d lines omitted …\n", r.Omitted)
	}
	for _, l := range r.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func (e *Engine) fresh(ctx context.Context, target string, mode model.CaptureMode, opts mux.CaptureOptions) (string, []string, error) {
	paneID, err := e.Mux.Resolve(ctx, target)
	if err != nil {
		e.Metrics.RecordCapture(ctx, string(mode), err)
		return "", nil, err
	}
	lines, err := e.Mux.CapturePane(ctx, paneID, opts)
	e.Metrics.RecordCapture(ctx, string(mode), err)
	if err != nil {
		return "", nil, err
	}
	if mode == model.ModeFiltered {
		lines = agent.StripChrome(lines)
	}
	return paneID, lines, nil
}

func (e *Engine) volatileTail() int {
	return max(0, e.VolatileTail)
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer("pane-relay")
}

func dropTail(lines []string, n int) []string {
	return lines[:max(0, len(lines)-n)]
}

