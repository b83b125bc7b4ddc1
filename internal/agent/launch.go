package agent

import "strings"

// LaunchOptions shape the relaunch command line.
type LaunchOptions struct {
	// Continue asks the agent to pick up its previous session.
	Continue bool
	// ResumeToken is required to continue a ContinueResumeToken kind; without
	// it the launch silently falls back to a fresh session.
	ResumeToken string
	// ControlPlaneConfig is passed to kinds that accept one.
	ControlPlaneConfig string
	// EnvFile is sourced before launching, if it exists at run time.
	EnvFile string
}

// BuildLaunchCommand returns the shell line that starts the agent and
// whether it continues a previous session.
func (k *Kind) BuildLaunchCommand(opts LaunchOptions) (string, bool) {
	parts := []string{k.Binary}
	resumed := false

	if opts.Continue {
		switch k.Continue {
		case ContinueNative:
			parts = append(parts, k.ContinueFlag)
			resumed = true
		case ContinueResumeToken:
			if opts.ResumeToken != "" {
				parts = append(parts, k.ResumeSubcommand, shellQuote(opts.ResumeToken))
				resumed = true
			}
		}
	}

	parts = append(parts, k.SkipConfirmFlag)

	if opts.ControlPlaneConfig != "" && k.SupportsControlPlane() {
		parts = append(parts, k.ControlPlaneFlag, shellQuote(opts.ControlPlaneConfig))
	}

	line := strings.Join(parts, " ")
	if opts.EnvFile != "" {
		q := quotePath(opts.EnvFile)
		line = "if [ -f " + q + " ]; then . " + q + "; fi; " + line
	}
	return line, resumed
}

// quotePath quotes a path, leaving a leading "~/" to the shell's $HOME.
func quotePath(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return `"$HOME"/` + shellQuote(rest)
	}
	return shellQuote(p)
}

// shellQuote quotes s for a POSIX shell. Plain words pass through unchanged.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=@%+,", r)
}
