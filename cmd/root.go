package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/pane-relay/internal/capture"
	"github.com/timvw/pane-relay/internal/config"
	"github.com/timvw/pane-relay/internal/lifecycle"
	"github.com/timvw/pane-relay/internal/logging"
	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/server"
)

var (
	// Global flags.
	flagConfig string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:   "pane-relay",
	Short: "Observe and restart AI coding agents running in tmux panes",
	Long: `pane-relay lets a controller drive AI coding agents (Claude Code, Codex)
that run in tmux panes, using nothing but tmux itself.

It captures pane text with the agent's input box and status lines stripped,
returns only the output that appeared since the previous look, and restarts
agents with Ctrl-C, an optional session resume, and a check that the agent
came back.

Run "pane-relay serve" to expose these operations as MCP tools over stdio.

Configuration is loaded from .pane-relay.yaml, ~/.config/pane-relay/config.yaml
and PANE_RELAY_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("PANE_RELAY_CONFIG", ""), "config file (default: .pane-relay.yaml, then ~/.config/pane-relay/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log at debug level (to stderr unless log_dir is set)")
}

// app holds what every command builds from configuration.
type app struct {
	cfg  *config.Config
	tmux *mux.Tmux
	tel  *telem.Telemetry
}

// setup loads configuration and starts logging, telemetry and the tmux
// adapter. Callers must defer close.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logging.Init(logging.Config{
		Dir:    cfg.LogDir,
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Debug:  flagDebug,
	})
	if cfg.ConfigFile != "" {
		logging.Logger().Info("config loaded", "file", cfg.ConfigFile)
	}

	// Wire build version into OTEL service metadata
	telem.Version = Version

	// No-op if no endpoint configured
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
	}

	t, err := mux.Detect(cfg.TmuxBinary)
	if err != nil {
		tel.Shutdown(ctx)
		logging.Shutdown()
		return nil, err
	}
	t.ReadTimeout = cfg.CaptureTimeoutDuration
	t.WriteTimeout = cfg.CommandTimeoutDuration
	t.MaxCaptureBytes = cfg.MaxCaptureBytes

	a := &app{cfg: cfg, tmux: t, tel: tel}
	t.Metrics = a.metrics()
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.tel.Shutdown(ctx)
	logging.Shutdown()
}

func (a *app) metrics() *telem.Metrics {
	if a.tel == nil {
		return nil
	}
	return a.tel.Metrics
}

func (a *app) tracer() trace.Tracer {
	if a.tel == nil {
		return nil
	}
	return a.tel.Tracer
}

func (a *app) engine() *capture.Engine {
	e := capture.NewEngine(a.tmux)
	e.CaptureLines = a.cfg.CaptureLines
	e.VolatileTail = a.cfg.VolatileTail
	e.Tracer = a.tracer()
	e.Metrics = a.metrics()
	return e
}

func (a *app) controller() *lifecycle.Controller {
	c := lifecycle.NewController(a.tmux)
	c.Tracer = a.tracer()
	c.Metrics = a.metrics()
	return c
}

func (a *app) restartDefaults() server.RestartDefaults {
	return server.RestartDefaults{
		InterruptCount:     a.cfg.InterruptCount,
		InterruptDelay:     a.cfg.InterruptDelayDuration,
		Settle:             a.cfg.SettleDuration,
		VerifyDelay:        a.cfg.VerifyDelayDuration,
		ControlPlaneConfig: a.cfg.ControlPlaneConfig,
		EnvFile:            a.cfg.EnvFile,
		ExcludeSessions:    a.cfg.ExcludeSessions,
	}
}

// restartOptions are the configured restart knobs; Kind is left to the caller.
func (a *app) restartOptions() lifecycle.Options {
	d := a.restartDefaults()
	return lifecycle.Options{
		InterruptCount:     d.InterruptCount,
		InterruptDelay:     d.InterruptDelay,
		Settle:             d.Settle,
		VerifyDelay:        d.VerifyDelay,
		ControlPlaneConfig: d.ControlPlaneConfig,
		EnvFile:            d.EnvFile,
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
