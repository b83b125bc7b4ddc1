package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pane-relay"

// Metrics holds all OTEL metric instruments for pane-relay.
// All methods are nil-safe so callers can hold a nil *Metrics.
type Metrics struct {
	// Captures counts raw captures partitioned by mode and result (ok, error).
	Captures metric.Int64Counter
	// Deltas counts delta captures partitioned by outcome status.
	Deltas metric.Int64Counter
	// Restarts counts agent restarts partitioned by agent and final status.
	Restarts metric.Int64Counter
	// TmuxCalls records the wall time of every multiplexer subprocess.
	TmuxCalls metric.Float64Histogram
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Captures, err = meter.Int64Counter("captures.total",
		metric.WithDescription("Pane captures partitioned by mode and result"))
	if err != nil {
		return nil, err
	}

	m.Deltas, err = meter.Int64Counter("deltas.total",
		metric.WithDescription("Delta captures partitioned by outcome (first check, reset, no new output, new output, gap detected)"))
	if err != nil {
		return nil, err
	}

	m.Restarts, err = meter.Int64Counter("restarts.total",
		metric.WithDescription("Agent restarts partitioned by agent and status (running, failed, unchecked, error)"))
	if err != nil {
		return nil, err
	}

	m.TmuxCalls, err = meter.Float64Histogram("tmux.calls.duration",
		metric.WithDescription("Wall time of multiplexer subprocess invocations"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCapture records one raw capture.
func (m *Metrics) RecordCapture(ctx context.Context, mode string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Captures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capture.mode", mode),
		attribute.String("capture.result", result),
	))
}

// RecordDelta records the outcome status of one delta capture.
func (m *Metrics) RecordDelta(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Deltas.Add(ctx, 1, metric.WithAttributes(attribute.String("delta.status", status)))
}

// RecordRestart records one finished restart.
func (m *Metrics) RecordRestart(ctx context.Context, agent, status string) {
	if m == nil {
		return
	}
	m.Restarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.kind", agent),
		attribute.String("restart.status", status),
	))
}

// RecordTmuxCall records the duration of one multiplexer subprocess.
func (m *Metrics) RecordTmuxCall(ctx context.Context, subcommand string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.TmuxCalls.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("tmux.subcommand", subcommand),
		attribute.Bool("tmux.error", err != nil),
	))
}
