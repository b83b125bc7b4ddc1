package agent

import (
	"strings"
)

const (
	// minDividerRun is the shortest run of horizontal rule glyphs that
	// counts as a divider.
	minDividerRun = 20
	// chromeLookahead is how far below a divider we look for corroboration.
	chromeLookahead = 60
)

const boxGlyphs = "│┃╭╮╰╯┌┐└┘"

// StripChrome removes the agent's redrawn input/status region from the
// bottom of a capture. Ambiguous content is left alone: a divider only counts
// when the lines beneath it look like agent chrome.
func StripChrome(lines []string) []string {
	var genuine []int
	for i, line := range lines {
		if isDivider(line) && corroborated(lines, i) {
			genuine = append(genuine, i)
		}
	}

	switch {
	case len(genuine) >= 2:
		// The last divider can sit inside the chrome, not at its edge.
		return trimBlank(lines[:genuine[len(genuine)-2]])
	case len(genuine) == 1:
		return trimBlank(lines[:genuine[0]])
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if hasPromptGlyph(lines[i]) {
			return trimBlank(lines[:i])
		}
	}
	return trimBlank(lines)
}

func isDivider(line string) bool {
	run := 0
	for _, r := range line {
		if r == '─' || r == '━' {
			run++
			if run >= minDividerRun {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func corroborated(lines []string, divider int) bool {
	end := min(len(lines), divider+1+chromeLookahead)
	for _, line := range lines[divider+1 : end] {
		if hasPromptGlyph(line) ||
			(strings.Contains(line, "Ctrl") && strings.Contains(line, "Enter")) ||
			strings.Contains(line, "? for shortcuts") ||
			strings.ContainsAny(line, boxGlyphs) {
			return true
		}
	}
	return false
}

func hasPromptGlyph(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	for _, g := range PromptGlyphs() {
		if strings.HasPrefix(trimmed, g) {
			return true
		}
	}
	return false
}

func trimBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}
