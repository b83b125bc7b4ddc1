// Package watch is an interactive terminal monitor over the agent panes. It
// polls delta captures so each refresh shows only what an agent printed since
// the previous one, and can restart or type into the selected pane.
package watch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/config"
	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
)

// PreviewLines bounds how much new output is kept per pane.
const PreviewLines = 200

var (
	log    = logging.ForComponent(logging.CompWatch)
	tracer = otel.Tracer("pane-relay-watch")
)

// Poller takes delta captures of every agent pane.
type Poller struct {
	Mux    mux.Multiplexer
	Engine *capture.Engine

	// Scope limits polling to one session; empty means all.
	Scope           string
	ExcludeSessions []string
	// SelfPaneID is the pane the monitor itself runs in; it is skipped.
	SelfPaneID string
	Mode       model.CaptureMode
	Parallel   int
}

// PaneState is one pane as seen by a single poll.
type PaneState struct {
	Pane   model.PaneRef
	Kind   *agent.Kind
	Status string
	// New is the output that appeared since the previous poll.
	New []string
	Err string
}

// Snapshot is the result of one poll.
type Snapshot struct {
	Panes []PaneState
	At    time.Time
}

// Poll lists the panes running a known agent and takes one delta capture of
// each. A capture failure is reported on its pane, not as an error.
func (p *Poller) Poll(ctx context.Context) *Snapshot {
	ctx, span := tracer.Start(ctx, "watch.poll", trace.WithAttributes(attribute.String("scope", p.Scope)))
	defer span.End()

	var states []PaneState
	for _, pane := range p.Mux.ListPanes(ctx, p.Scope) {
		if pane.PaneID == p.SelfPaneID {
			continue
		}
		if config.MatchesExcludeList(pane.SessionName, p.ExcludeSessions) {
			continue
		}
		kind := agent.KindForCommand(pane.Command)
		if kind == nil {
			continue
		}
		states = append(states, PaneState{Pane: pane, Kind: kind})
	}

	// Plain Group: errors stay on their pane and never cancel the poll.
	var g errgroup.Group
	g.SetLimit(max(p.Parallel, 1))
	for i := range states {
		st := &states[i]
		g.Go(func() error {
			res, err := p.Engine.Delta(ctx, capture.DeltaRequest{
				Target:   st.Pane.PaneID,
				Mode:     p.Mode,
				MaxLines: PreviewLines,
			})
			if err != nil {
				log.Debug("poll capture failed", "pane", st.Pane.PaneID, "error", err)
				st.Err = err.Error()
				return nil
			}
			st.Status = res.Status
			st.New = res.Lines
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("panes.total", len(states)))
	return &Snapshot{Panes: states, At: time.Now()}
}

// Reset drops the stored baseline of one pane so the next poll starts over.
func (p *Poller) Reset(ctx context.Context, paneID string) (*capture.DeltaResult, error) {
	return p.Engine.Delta(ctx, capture.DeltaRequest{
		Target:   paneID,
		Mode:     p.Mode,
		Reset:    true,
		MaxLines: PreviewLines,
	})
}
