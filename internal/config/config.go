// Package config loads pane-relay configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PANE_RELAY_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order (unless a path is given explicitly):
//  1. .pane-relay.yaml in current directory
//  2. ~/.config/pane-relay/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pane-relay configuration.
type Config struct {
	// Multiplexer
	TmuxBinary      string `yaml:"tmux_binary"`
	CaptureTimeout  string `yaml:"capture_timeout"` // Go duration string, e.g. "8s"
	CommandTimeout  string `yaml:"command_timeout"`
	MaxCaptureBytes int    `yaml:"max_capture_bytes"`

	// Delta capture
	CaptureLines int `yaml:"capture_lines"`
	VolatileTail int `yaml:"volatile_tail"`

	// Restart timing
	InterruptCount int    `yaml:"interrupt_count"`
	InterruptDelay string `yaml:"interrupt_delay"`
	Settle         string `yaml:"settle"`
	VerifyDelay    string `yaml:"verify_delay"`

	// Relaunch
	ControlPlaneConfig string `yaml:"control_plane_config"` // passed to agents that accept one
	EnvFile            string `yaml:"env_file"`             // sourced before launching, if present

	// Sessions never touched by batch restarts or shown by watch.
	// Entries are exact names or prefixes ending in "*".
	ExcludeSessions []string `yaml:"exclude_sessions"`

	// Watch TUI
	WatchRefresh string `yaml:"watch_refresh"`

	// Logging
	LogDir    string `yaml:"log_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	CaptureTimeoutDuration time.Duration `yaml:"-"`
	CommandTimeoutDuration time.Duration `yaml:"-"`
	InterruptDelayDuration time.Duration `yaml:"-"`
	SettleDuration         time.Duration `yaml:"-"`
	VerifyDelayDuration    time.Duration `yaml:"-"`
	WatchRefreshDuration   time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		TmuxBinary:      "tmux",
		CaptureTimeout:  "8s",
		CommandTimeout:  "8s",
		MaxCaptureBytes: 10 * 1024 * 1024,
		CaptureLines:    500,
		VolatileTail:    10,
		InterruptCount:  2,
		InterruptDelay:  "600ms",
		Settle:          "800ms",
		VerifyDelay:     "2s",
		WatchRefresh:    "2s",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads configuration from path, or from the search locations when
// path is empty. Environment variables always override file values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	var data []byte
	var err error
	if path != "" {
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		path, data, err = findConfigFile()
		if err != nil {
			path = ""
		}
	}
	if path != "" {
		// Keys absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".pane-relay.yaml"); err == nil {
		return ".pane-relay.yaml", data, nil
	}

	// 2. ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "pane-relay", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	strs := map[string]*string{
		"PANE_RELAY_TMUX":                 &cfg.TmuxBinary,
		"PANE_RELAY_CAPTURE_TIMEOUT":      &cfg.CaptureTimeout,
		"PANE_RELAY_COMMAND_TIMEOUT":      &cfg.CommandTimeout,
		"PANE_RELAY_INTERRUPT_DELAY":      &cfg.InterruptDelay,
		"PANE_RELAY_SETTLE":               &cfg.Settle,
		"PANE_RELAY_VERIFY_DELAY":         &cfg.VerifyDelay,
		"PANE_RELAY_CONTROL_PLANE_CONFIG": &cfg.ControlPlaneConfig,
		"PANE_RELAY_ENV_FILE":             &cfg.EnvFile,
		"PANE_RELAY_WATCH_REFRESH":        &cfg.WatchRefresh,
		"PANE_RELAY_LOG_DIR":              &cfg.LogDir,
		"PANE_RELAY_LOG_LEVEL":            &cfg.LogLevel,
		"PANE_RELAY_LOG_FORMAT":           &cfg.LogFormat,
		"OTEL_EXPORTER_OTLP_ENDPOINT":     &cfg.OTELEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":      &cfg.OTELHeaders,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PANE_RELAY_MAX_CAPTURE_BYTES": &cfg.MaxCaptureBytes,
		"PANE_RELAY_CAPTURE_LINES":     &cfg.CaptureLines,
		"PANE_RELAY_VOLATILE_TAIL":     &cfg.VolatileTail,
		"PANE_RELAY_INTERRUPT_COUNT":   &cfg.InterruptCount,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	if v := os.Getenv("PANE_RELAY_EXCLUDE_SESSIONS"); v != "" {
		cfg.ExcludeSessions = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ExcludeSessions = append(cfg.ExcludeSessions, s)
			}
		}
	}
	return nil
}

// resolve parses durations and range-checks numeric settings.
func (cfg *Config) resolve() error {
	durations := []struct {
		field    string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"capture_timeout", cfg.CaptureTimeout, 8 * time.Second, &cfg.CaptureTimeoutDuration},
		{"command_timeout", cfg.CommandTimeout, 8 * time.Second, &cfg.CommandTimeoutDuration},
		{"interrupt_delay", cfg.InterruptDelay, 600 * time.Millisecond, &cfg.InterruptDelayDuration},
		{"settle", cfg.Settle, 800 * time.Millisecond, &cfg.SettleDuration},
		{"verify_delay", cfg.VerifyDelay, 2 * time.Second, &cfg.VerifyDelayDuration},
		{"watch_refresh", cfg.WatchRefresh, 2 * time.Second, &cfg.WatchRefreshDuration},
	}
	for _, d := range durations {
		v, err := parseDurationOrDisable(d.raw, d.fallback)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.field, d.raw, err)
		}
		*d.dst = v
	}

	var errs []error
	check := func(ok bool, format string, a ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, a...))
		}
	}
	check(cfg.CaptureTimeoutDuration > 0, "capture_timeout must be positive")
	check(cfg.CommandTimeoutDuration > 0, "command_timeout must be positive")
	check(cfg.MaxCaptureBytes > 0, "max_capture_bytes must be positive, got %d", cfg.MaxCaptureBytes)
	check(cfg.CaptureLines >= 1 && cfg.CaptureLines <= 4000, "capture_lines must be in [1, 4000], got %d", cfg.CaptureLines)
	check(cfg.VolatileTail >= 0 && cfg.VolatileTail <= 200, "volatile_tail must be in [0, 200], got %d", cfg.VolatileTail)
	check(cfg.InterruptCount >= 1 && cfg.InterruptCount <= 5, "interrupt_count must be in [1, 5], got %d", cfg.InterruptCount)
	check(cfg.InterruptDelayDuration >= 100*time.Millisecond && cfg.InterruptDelayDuration <= 5*time.Second,
		"interrupt_delay must be in [100ms, 5s], got %s", cfg.InterruptDelayDuration)
	check(cfg.WatchRefreshDuration > 0, "watch_refresh must be positive")
	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", cfg.LogFormat))
	}
	return errors.Join(errs...)
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// MatchesExcludeList reports whether name matches any pattern. A pattern
// ending in "*" matches by prefix; anything else must match exactly.
func MatchesExcludeList(name string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if name == p {
			return true
		}
	}
	return false
}
