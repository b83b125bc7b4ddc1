// Package lifecycle restarts agent CLIs running in panes: interrupt, recover
// a resume token, relaunch and verify. Restarts are strictly sequential,
// including across concurrent callers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/pane-relay/internal/agent"
	"github.com/timvw/pane-relay/internal/config"
	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	ppotel "github.com/timvw/pane-relay/internal/otel"
)

// Timing defaults and bounds.
const (
	DefaultInterruptCount = 2
	MinInterruptCount     = 1
	MaxInterruptCount     = 5

	DefaultInterruptDelay = 600 * time.Millisecond
	MinInterruptDelay     = 100 * time.Millisecond
	MaxInterruptDelay     = 5 * time.Second

	DefaultSettle      = 800 * time.Millisecond
	DefaultVerifyDelay = 2 * time.Second
	MaxWait            = 30 * time.Second

	// ProbeLines is how much recent output is searched for a resume token.
	ProbeLines = 200
)

var log = logging.ForComponent(logging.CompLifecycle)

// Options control one restart.
type Options struct {
	Kind *agent.Kind
	// Continue resumes the previous session when the kind can.
	Continue bool

	// Zero values select the defaults.
	InterruptCount int
	InterruptDelay time.Duration
	// Settle and VerifyDelay are used as given; zero means no wait.
	Settle      time.Duration
	VerifyDelay time.Duration

	// SkipVerify leaves the outcome unchecked.
	SkipVerify bool

	ControlPlaneConfig string
	EnvFile            string
}

// DefaultOptions returns restart options for kind with every timing knob at
// its default.
func DefaultOptions(kind *agent.Kind) Options {
	return Options{
		Kind:           kind,
		InterruptCount: DefaultInterruptCount,
		InterruptDelay: DefaultInterruptDelay,
		Settle:         DefaultSettle,
		VerifyDelay:    DefaultVerifyDelay,
	}
}

func (o Options) normalize() (Options, error) {
	if o.Kind == nil {
		return o, fmt.Errorf("%w: agent kind is required", model.ErrInvalidArgument)
	}
	if o.InterruptCount == 0 {
		o.InterruptCount = DefaultInterruptCount
	}
	if o.InterruptDelay == 0 {
		o.InterruptDelay = DefaultInterruptDelay
	}
	switch {
	case o.InterruptCount < MinInterruptCount || o.InterruptCount > MaxInterruptCount:
		return o, fmt.Errorf("%w: interrupt count %d out of range [%d, %d]", model.ErrInvalidArgument, o.InterruptCount, MinInterruptCount, MaxInterruptCount)
	case o.InterruptDelay < MinInterruptDelay || o.InterruptDelay > MaxInterruptDelay:
		return o, fmt.Errorf("%w: interrupt delay %s out of range [%s, %s]", model.ErrInvalidArgument, o.InterruptDelay, MinInterruptDelay, MaxInterruptDelay)
	case o.Settle < 0 || o.Settle > MaxWait:
		return o, fmt.Errorf("%w: settle %s out of range [0, %s]", model.ErrInvalidArgument, o.Settle, MaxWait)
	case o.VerifyDelay < 0 || o.VerifyDelay > MaxWait:
		return o, fmt.Errorf("%w: verify delay %s out of range [0, %s]", model.ErrInvalidArgument, o.VerifyDelay, MaxWait)
	}
	return o, nil
}

// Controller runs restarts through a single-worker queue.
type Controller struct {
	Mux   mux.Multiplexer
	Sleep SleepFunc

	Tracer  trace.Tracer
	Metrics *ppotel.Metrics

	queue *Queue
}

// NewController starts a controller; Close releases its worker.
func NewController(m mux.Multiplexer) *Controller {
	return &Controller{
		Mux:   m,
		Sleep: Sleep,
		queue: NewQueue(),
	}
}

// Close stops the restart worker.
func (c *Controller) Close() {
	c.queue.Close()
}

// Restart restarts the agent in one pane. It waits for any restart already
// in progress. The outcome is non-nil whenever the pane was resolved, even
// when err is set.
func (c *Controller) Restart(ctx context.Context, target string, opts Options) (*model.RestartOutcome, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	var out *model.RestartOutcome
	qerr := c.queue.Do(ctx, func(ctx context.Context) {
		out, err = c.restart(ctx, target, opts)
	})
	if qerr != nil {
		return nil, qerr
	}
	return out, err
}

func (c *Controller) restart(ctx context.Context, target string, opts Options) (out *model.RestartOutcome, err error) {
	ctx, span := c.tracer().Start(ctx, "lifecycle.restart", trace.WithAttributes(
		attribute.String("pane.target", target),
		attribute.String("agent", opts.Kind.Name),
		attribute.Bool("continue", opts.Continue),
	))
	defer func() {
		if out != nil {
			span.SetAttributes(attribute.String("restart.status", string(out.Status)))
			if err != nil && out.Error == "" {
				out.Error = err.Error()
			}
			c.Metrics.RecordRestart(ctx, opts.Kind.Name, string(out.Status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	paneID, err := c.Mux.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	out = &model.RestartOutcome{PaneID: paneID, Target: target, Agent: opts.Kind.Name, Status: model.RestartFailed}

	probe := opts.Continue && opts.Kind.Continue == agent.ContinueResumeToken
	var token string
	if probe {
		// An earlier exit may already have printed a token.
		token = c.probe(ctx, paneID, opts.Kind)
	}

	for i := 0; i < opts.InterruptCount; i++ {
		if err := c.Mux.SendKey(ctx, paneID, "C-c"); err != nil {
			return out, fmt.Errorf("interrupt %d/%d: %w", i+1, opts.InterruptCount, err)
		}
		if err := c.sleep(ctx, opts.InterruptDelay); err != nil {
			return out, err
		}
	}
	if err := c.Mux.SendKey(ctx, paneID, "C-u"); err != nil {
		log.Debug("clear line failed", "pane", paneID, "error", err)
	}
	if err := c.sleep(ctx, opts.Settle); err != nil {
		return out, err
	}

	if probe {
		// Shutdown may have printed a fresher token.
		if t := c.probe(ctx, paneID, opts.Kind); t != "" {
			token = t
		}
	}

	line, resumed := opts.Kind.BuildLaunchCommand(agent.LaunchOptions{
		Continue:           opts.Continue,
		ResumeToken:        token,
		ControlPlaneConfig: opts.ControlPlaneConfig,
		EnvFile:            opts.EnvFile,
	})
	out.CommandLine = line
	out.ResumeToken = token
	out.Resumed = resumed
	if opts.Continue && !resumed {
		log.Info("no resume token found, launching fresh session", "pane", paneID, "agent", opts.Kind.Name)
	}

	if err := TypeLine(ctx, c.Mux, c.sleep, paneID, line, true); err != nil {
		return out, fmt.Errorf("relaunch %s: %w", opts.Kind.Name, err)
	}

	if opts.SkipVerify {
		out.Status = model.RestartUnchecked
		log.Info("agent relaunched", "pane", paneID, "agent", opts.Kind.Name, "resumed", resumed, "verified", false)
		return out, nil
	}

	if err := c.sleep(ctx, opts.VerifyDelay); err != nil {
		return out, err
	}
	observed, err := c.Mux.QueryField(ctx, paneID, "#{pane_current_command}")
	if err != nil {
		return out, fmt.Errorf("query foreground command: %w", err)
	}
	out.ObservedCommand = observed
	if observed != opts.Kind.Binary {
		err := fmt.Errorf("%w: pane %s is running %q, expected %q", model.ErrVerificationFailed, paneID, observed, opts.Kind.Binary)
		log.Warn("agent relaunch not verified", "pane", paneID, "agent", opts.Kind.Name, "observed", observed)
		return out, err
	}
	out.Status = model.RestartRunning
	log.Info("agent relaunched", "pane", paneID, "agent", opts.Kind.Name, "resumed", resumed, "verified", true)
	return out, nil
}

// probe looks for a resume token in recent raw output. Failures are not
// fatal; they just mean no token.
func (c *Controller) probe(ctx context.Context, paneID string, kind *agent.Kind) string {
	lines, err := c.Mux.CapturePane(ctx, paneID, mux.CaptureOptions{Lines: ProbeLines})
	if err != nil {
		log.Debug("resume token probe failed", "pane", paneID, "error", err)
		return ""
	}
	return kind.ExtractResumeToken(lines)
}

// BatchRequest selects the panes of one agent kind to restart.
type BatchRequest struct {
	// Scope limits the batch to a session or window; empty means all.
	Scope string
	// ExcludeSessions are never restarted; see config.MatchesExcludeList.
	ExcludeSessions []string
	// StopOnFailure skips the remaining panes after the first failure.
	StopOnFailure bool
	// Options apply to every pane; Options.Kind selects the panes.
	Options Options
}

// RunBatch restarts every pane whose foreground command is the kind's
// binary, one after another.
func (c *Controller) RunBatch(ctx context.Context, req BatchRequest) (*model.BatchOutcome, error) {
	opts, err := req.Options.normalize()
	if err != nil {
		return nil, err
	}

	batch := &model.BatchOutcome{BatchID: uuid.NewString(), Outcomes: []model.RestartOutcome{}}
	ctx, span := c.tracer().Start(ctx, "lifecycle.batch", trace.WithAttributes(
		attribute.String("batch.id", batch.BatchID),
		attribute.String("agent", opts.Kind.Name),
	))
	defer span.End()

	var targets []model.PaneRef
	for _, p := range c.Mux.ListPanes(ctx, req.Scope) {
		if p.Command == opts.Kind.Binary && !config.MatchesExcludeList(p.SessionName, req.ExcludeSessions) {
			targets = append(targets, p)
		}
	}
	span.SetAttributes(attribute.Int("batch.size", len(targets)))
	log.Info("restart batch started", "batch", batch.BatchID, "agent", opts.Kind.Name, "panes", len(targets))

	for i, p := range targets {
		out, err := c.Restart(ctx, p.PaneID, opts)
		if out == nil {
			out = &model.RestartOutcome{PaneID: p.PaneID, Target: p.Target(), Agent: opts.Kind.Name, Status: model.RestartFailed}
			if err != nil {
				out.Error = err.Error()
			}
		}
		out.Target = p.Target()
		batch.Outcomes = append(batch.Outcomes, *out)

		if err == nil {
			continue
		}
		if req.StopOnFailure || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed) {
			batch.Aborted = true
			for _, rest := range targets[i+1:] {
				batch.Skipped = append(batch.Skipped, rest.PaneID)
			}
			break
		}
	}

	log.Info("restart batch finished", "batch", batch.BatchID, "restarted", len(batch.Outcomes), "failed", batch.Failed(), "skipped", len(batch.Skipped))
	return batch, nil
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep == nil {
		return Sleep(ctx, d)
	}
	return c.Sleep(ctx, d)
}

func (c *Controller) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("pane-relay")
}
