package mux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Detect returns a tmux multiplexer for the given binary ("" means "tmux").
// It fails when the binary cannot be found; a missing server is not an error
// since sessions may be created later.
func Detect(binary string) (*Tmux, error) {
	if binary == "" {
		binary = "tmux"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("no supported terminal multiplexer found (install tmux or set tmux_binary): %w", err)
	}
	t := NewTmux()
	t.Binary = binary
	return t, nil
}

// InsideTmux reports whether this process runs in a tmux pane.
func InsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// SelfPaneID returns the id of the pane this process runs in, or "".
func SelfPaneID() string {
	return strings.TrimSpace(os.Getenv("TMUX_PANE"))
}

// SwitchClient moves the attached client to target.
func (t *Tmux) SwitchClient(ctx context.Context, target string) error {
	if _, err := t.run(ctx, t.WriteTimeout, 0, "switch-client", "-t", target); err != nil {
		return fmt.Errorf("switch-client -t %s: %w", target, err)
	}
	return nil
}
