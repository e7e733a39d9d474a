package analyzer

import (
	"regexp"
	"strings"
)

// mustCompileAny joins alternative regex fragments into a single
// case-insensitive pattern, matching if any fragment matches.
func mustCompileAny(patterns ...string) *regexp.Regexp {
	joined := make([]string, len(patterns))
	for i, p := range patterns {
		joined[i] = "(?:" + p + ")"
	}
	return regexp.MustCompile("(?i)" + strings.Join(joined, "|"))
}
