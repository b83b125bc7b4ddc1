package agent

import "strings"

// ExtractResumeToken scans lines bottom-up for the kind's shutdown resume
// pattern and returns the most recent token, or "" when there is none or the
// kind continues natively.
func (k *Kind) ExtractResumeToken(lines []string) string {
	if k.ResumePattern == nil {
		return ""
	}
	for i := len(lines) - 1; i >= 0; i-- {
		m := k.ResumePattern.FindAllStringSubmatch(lines[i], -1)
		if len(m) == 0 {
			continue
		}
		if token := strings.TrimRight(m[len(m)-1][1], "-"); token != "" {
			return token
		}
	}
	return ""
}
