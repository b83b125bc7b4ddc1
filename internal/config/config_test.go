package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var relayEnv = []string{
	"PANE_RELAY_TMUX", "PANE_RELAY_CAPTURE_TIMEOUT", "PANE_RELAY_COMMAND_TIMEOUT",
	"PANE_RELAY_MAX_CAPTURE_BYTES", "PANE_RELAY_CAPTURE_LINES", "PANE_RELAY_VOLATILE_TAIL",
	"PANE_RELAY_INTERRUPT_COUNT", "PANE_RELAY_INTERRUPT_DELAY", "PANE_RELAY_SETTLE",
	"PANE_RELAY_VERIFY_DELAY", "PANE_RELAY_CONTROL_PLANE_CONFIG", "PANE_RELAY_ENV_FILE",
	"PANE_RELAY_EXCLUDE_SESSIONS", "PANE_RELAY_WATCH_REFRESH", "PANE_RELAY_LOG_DIR",
	"PANE_RELAY_LOG_LEVEL", "PANE_RELAY_LOG_FORMAT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS",
}

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range relayEnv {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.TmuxBinary != "tmux" {
		t.Errorf("TmuxBinary: got %q, want %q", cfg.TmuxBinary, "tmux")
	}
	if cfg.CaptureLines != 500 {
		t.Errorf("CaptureLines: got %d, want %d", cfg.CaptureLines, 500)
	}
	if cfg.VolatileTail != 10 {
		t.Errorf("VolatileTail: got %d, want %d", cfg.VolatileTail, 10)
	}
	if cfg.InterruptCount != 2 {
		t.Errorf("InterruptCount: got %d, want %d", cfg.InterruptCount, 2)
	}
	if cfg.InterruptDelay != "600ms" {
		t.Errorf("InterruptDelay: got %q, want %q", cfg.InterruptDelay, "600ms")
	}
}

func TestLoadDefaultsResolve(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile: got %q, want none", cfg.ConfigFile)
	}
	if cfg.CaptureTimeoutDuration != 8*time.Second {
		t.Errorf("CaptureTimeoutDuration: got %v", cfg.CaptureTimeoutDuration)
	}
	if cfg.SettleDuration != 800*time.Millisecond {
		t.Errorf("SettleDuration: got %v", cfg.SettleDuration)
	}
	if cfg.VerifyDelayDuration != 2*time.Second {
		t.Errorf("VerifyDelayDuration: got %v", cfg.VerifyDelayDuration)
	}
}

func TestMatchesExcludeList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		patterns []string
		want     bool
	}{
		{"exact match", "my-session", []string{"my-session"}, true},
		{"exact no match", "my-session", []string{"other-session"}, false},
		{"prefix glob match", "scratch-1234", []string{"scratch-*"}, true},
		{"prefix glob no match", "my-session", []string{"scratch-*"}, false},
		{"prefix glob exact prefix", "scratch-", []string{"scratch-*"}, true},
		{"empty patterns", "anything", []string{}, false},
		{"nil patterns", "anything", nil, false},
		{"multiple patterns last match", "bar", []string{"foo", "scratch-*", "bar"}, true},
		{"star only matches everything", "anything", []string{"*"}, true},
		{"empty name with star", "", []string{"*"}, true},
		{"empty name no match", "", []string{"foo"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesExcludeList(tt.input, tt.patterns)
			if got != tt.want {
				t.Errorf("MatchesExcludeList(%q, %v) = %v, want %v",
					tt.input, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDisable(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMs  int64
		wantErr bool
	}{
		{"empty returns fallback", "", 5000, false},
		{"zero disables", "0", 0, false},
		{"off disables", "off", 0, false},
		{"disable disables", "disable", 0, false},
		{"valid duration", "30s", 30000, false},
		{"valid short duration", "500ms", 500, false},
		{"invalid", "not-a-duration", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDurationOrDisable(tt.input, 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDurationOrDisable(%q): error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Milliseconds() != tt.wantMs {
				t.Errorf("parseDurationOrDisable(%q) = %v, want %dms", tt.input, got, tt.wantMs)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := `tmux_binary: /opt/tmux/bin/tmux
capture_lines: 1200
volatile_tail: 0
interrupt_count: 3
interrupt_delay: 250ms
control_plane_config: /etc/relay/mcp.json
exclude_sessions:
  - "scratch-*"
  - "private"
log_format: text
`
	if err := os.WriteFile(filepath.Join(dir, ".pane-relay.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ConfigFile != ".pane-relay.yaml" {
		t.Errorf("ConfigFile: got %q", cfg.ConfigFile)
	}
	if cfg.TmuxBinary != "/opt/tmux/bin/tmux" {
		t.Errorf("TmuxBinary: got %q", cfg.TmuxBinary)
	}
	if cfg.CaptureLines != 1200 {
		t.Errorf("CaptureLines: got %d, want %d", cfg.CaptureLines, 1200)
	}
	if cfg.VolatileTail != 0 {
		t.Errorf("VolatileTail: got %d, want 0 (explicit zero must survive)", cfg.VolatileTail)
	}
	if cfg.InterruptCount != 3 {
		t.Errorf("InterruptCount: got %d, want %d", cfg.InterruptCount, 3)
	}
	if cfg.InterruptDelayDuration != 250*time.Millisecond {
		t.Errorf("InterruptDelayDuration: got %v", cfg.InterruptDelayDuration)
	}
	if cfg.ControlPlaneConfig != "/etc/relay/mcp.json" {
		t.Errorf("ControlPlaneConfig: got %q", cfg.ControlPlaneConfig)
	}
	if cfg.CaptureTimeout != "8s" {
		t.Errorf("CaptureTimeout: got %q, want default kept", cfg.CaptureTimeout)
	}
	if len(cfg.ExcludeSessions) != 2 {
		t.Fatalf("ExcludeSessions: got %d entries, want 2", len(cfg.ExcludeSessions))
	}
	if cfg.ExcludeSessions[0] != "scratch-*" {
		t.Errorf("ExcludeSessions[0]: got %q, want %q", cfg.ExcludeSessions[0], "scratch-*")
	}
}

func TestLoadExplicitPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "settle: 1s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SettleDuration != time.Second {
		t.Errorf("SettleDuration: got %v", cfg.SettleDuration)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "capture_lines: 800\nlog_level: warn\nexclude_sessions: [a]\n")

	t.Setenv("PANE_RELAY_CAPTURE_LINES", "300")
	t.Setenv("PANE_RELAY_LOG_LEVEL", "debug")
	t.Setenv("PANE_RELAY_EXCLUDE_SESSIONS", "b, c*")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CaptureLines != 300 {
		t.Errorf("CaptureLines: got %d, want %d (env should override file)", cfg.CaptureLines, 300)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q (env should override file)", cfg.LogLevel, "debug")
	}
	if strings.Join(cfg.ExcludeSessions, "|") != "b|c*" {
		t.Errorf("ExcludeSessions: got %v", cfg.ExcludeSessions)
	}
	if cfg.OTELEndpoint != "http://collector:4318" {
		t.Errorf("OTELEndpoint: got %q", cfg.OTELEndpoint)
	}
}

func TestInvalidValuesNameTheField(t *testing.T) {
	tests := []struct {
		content string
		env     [2]string
		field   string
	}{
		{content: "capture_lines: 5000\n", field: "capture_lines"},
		{content: "interrupt_count: 9\n", field: "interrupt_count"},
		{content: "interrupt_delay: 10ms\n", field: "interrupt_delay"},
		{content: "settle: soon\n", field: "settle"},
		{content: "log_format: xml\n", field: "log_format"},
		{content: "", env: [2]string{"PANE_RELAY_VOLATILE_TAIL", "ten"}, field: "PANE_RELAY_VOLATILE_TAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			clearEnv(t)
			if tt.env[0] != "" {
				t.Setenv(tt.env[0], tt.env[1])
			}
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}
