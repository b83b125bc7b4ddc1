// Package agent holds everything the relay knows about the agent CLIs it
// hosts: a closed table of supported kinds, the rendered-chrome heuristics
// used to strip their input region, resume-token recovery and launch lines.
//
// Nothing here understands what an agent is doing. The heuristics look only
// at rendered terminal text.
package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/timvw/pane-relay/internal/model"
)

// ContinueStrategy is how a kind continues a previous session.
type ContinueStrategy int

const (
	// ContinueNative appends a continue flag; the agent finds its own session.
	ContinueNative ContinueStrategy = iota
	// ContinueResumeToken uses a resume subcommand with a token recovered
	// from the pane's output.
	ContinueResumeToken
)

// Kind is one supported agent CLI.
type Kind struct {
	// Name is the identifier used in tool arguments and outcomes.
	Name string
	// Binary is the executable name; it is also what tmux reports as the
	// pane's foreground command while the agent runs.
	Binary string
	// SkipConfirmFlag disables interactive permission/sandbox prompts.
	SkipConfirmFlag string
	Continue        ContinueStrategy
	// ContinueFlag is the native continue flag (ContinueNative only).
	ContinueFlag string
	// ResumeSubcommand precedes the token (ContinueResumeToken only).
	ResumeSubcommand string
	// PromptGlyph starts the agent's input line.
	PromptGlyph string
	// ResumePattern captures the token the agent prints on shutdown.
	ResumePattern *regexp.Regexp
	// ControlPlaneFlag takes a control-plane config path; empty when the
	// kind has no such flag.
	ControlPlaneFlag string
}

var (
	// Claude is the kind with a native continue flag.
	Claude = &Kind{
		Name:             "claude",
		Binary:           "claude",
		SkipConfirmFlag:  "--dangerously-skip-permissions",
		Continue:         ContinueNative,
		ContinueFlag:     "--continue",
		PromptGlyph:      "❯",
		ControlPlaneFlag: "--mcp-config",
	}

	// Codex is the kind that prints a resume token on exit.
	Codex = &Kind{
		Name:             "codex",
		Binary:           "codex",
		SkipConfirmFlag:  "--dangerously-bypass-approvals-and-sandbox",
		Continue:         ContinueResumeToken,
		ResumeSubcommand: "resume",
		PromptGlyph:      "›",
		ResumePattern:    regexp.MustCompile(`\bresume\s+([0-9a-fA-F][0-9a-fA-F-]{5,})`),
	}
)

// Kinds lists every supported kind in a stable order.
var Kinds = []*Kind{Claude, Codex}

// PromptGlyphs returns the prompt glyph of every supported kind.
func PromptGlyphs() []string {
	glyphs := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		glyphs = append(glyphs, k.PromptGlyph)
	}
	return glyphs
}

// ParseKind looks a kind up by name, case-insensitively.
func ParseKind(name string) (*Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, k := range Kinds {
		if k.Name == n {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown agent %q (supported: %s)", model.ErrInvalidArgument, name, strings.Join(KindNames(), ", "))
}

// KindNames returns the names of every supported kind.
func KindNames() []string {
	names := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		names = append(names, k.Name)
	}
	return names
}

// KindForCommand returns the kind whose binary matches a pane's foreground
// command, or nil.
func KindForCommand(command string) *Kind {
	for _, k := range Kinds {
		if command == k.Binary {
			return k
		}
	}
	return nil
}

// SupportsControlPlane reports whether the kind accepts a control-plane config.
func (k *Kind) SupportsControlPlane() bool {
	return k.ControlPlaneFlag != ""
}

func (k *Kind) String() string { return k.Name }
