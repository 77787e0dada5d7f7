package agent

import "strings"

// logPreview flattens s onto one line and keeps at most maxLen runes, for log attributes.
// SQL and multi-line questions otherwise break line-oriented log output.
func logPreview(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
