package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timvw/pane-relay/internal/mux"
)

// enterAttempts bounds how often a final Enter is retried.
const enterAttempts = 3

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TypeLine types text as one literal burst, then presses Enter as a
// separate keystroke. Typing key by key would let shell line editing and
// completion mangle the line. Enter is retried after a failed call but not
// after a timed-out one, since tmux may already have delivered it.
func TypeLine(ctx context.Context, m mux.Multiplexer, sleep SleepFunc, target, text string, enter bool) error {
	if err := m.SendLiteral(ctx, target, text); err != nil {
		return fmt.Errorf("send literal text: %w", err)
	}
	if !enter {
		return nil
	}
	if err := sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < enterAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, 200*time.Millisecond); err != nil {
				return err
			}
		}
		if err := m.SendKey(ctx, target, "Enter"); err != nil {
			if errors.Is(err, mux.ErrTimeout) || ctx.Err() != nil {
				return fmt.Errorf("send Enter: %w", err)
			}
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to send Enter after %d attempts: %w", enterAttempts, lastErr)
}

// IsKeyName reports whether keys is a tmux key name rather than text.
func IsKeyName(keys string) bool {
	switch keys {
	case "Enter", "Escape", "Up", "Down", "Left", "Right",
		"Tab", "BTab", "Space", "BSpace", "DC", "Home", "End", "PageUp", "PageDown":
		return true
	}
	// C-x and M-x
	if len(keys) == 3 && (keys[0] == 'C' || keys[0] == 'M') && keys[1] == '-' {
		return true
	}
	return false
}
