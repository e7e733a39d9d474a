package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// performancePatterns flags anti-patterns recognizable on a single added
// line. RE2 (Go's regexp engine) has no lookaround or backreferences, so
// patterns needing them are approximated with the nearest line-local signal.
var performancePatterns = []namedPattern{
	{"N+1 Query", mustCompileAny(`for\s+\w+\s+in\s+.*\.get\(`, `for.*in.*query\(`, `for.*in.*filter\(`)},
	{"Blocking Call", mustCompileAny(`\.wait\(`, `time\.sleep\(`, `requests\.get\(`)},
	{"Nested Loop", mustCompileAny(`for\s+.+for\s+`)},
	{"Large List Comprehension", mustCompileAny(`\[.*for.*for.*\]`)},
	{"Synchronous in Async", mustCompileAny(`async\s+def.*requests\.`, `async\s+def.*time\.sleep`)},
}

// PerformanceAnalyzer flags anti-patterns on added lines: N+1-shaped query
// loops, blocking calls, nested loops, and sync-in-async usage.
type PerformanceAnalyzer struct{}

func (PerformanceAnalyzer) Name() string { return "performance" }

func (PerformanceAnalyzer) Analyze(_ context.Context, req domain.CodeAnalysisRequest) (domain.Verdict, float64, map[string]any, error) {
	issues := detectPerformanceIssues(req.Diff)

	var nPlusOne, blocking, heavyLoops int
	for _, issue := range issues {
		switch {
		case strings.Contains(issue.kind, "N+1"):
			nPlusOne++
		case strings.Contains(issue.kind, "Blocking"):
			blocking++
		case strings.Contains(issue.kind, "Loop"):
			heavyLoops++
		}
	}

	score := performanceScore(issues)
	verdict := performanceVerdict(issues)

	details := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		details = append(details, map[string]any{
			"type":    issue.kind,
			"line":    issue.line,
			"details": issue.details,
		})
	}

	payload := map[string]any{
		"performance_issues":  details,
		"n_plus_one_queries":  nPlusOne,
		"blocking_calls":      blocking,
		"heavy_loops":         heavyLoops,
		"performance_score":   score,
	}
	return verdict, 0.75, payload, nil
}

func detectPerformanceIssues(diff string) []securityIssue {
	var issues []securityIssue
	for lineNum, content := range addedLines(diff) {
		for _, p := range performancePatterns {
			if p.pattern.MatchString(content) {
				issues = append(issues, securityIssue{
					kind:    p.name,
					line:    lineNum,
					details: fmt.Sprintf("Potential %s detected", p.name),
				})
			}
		}
	}
	return issues
}

func performanceScore(issues []securityIssue) float64 {
	score := 1.0 - float64(len(issues))*0.15
	if score < 0 {
		return 0
	}
	return score
}

func performanceVerdict(issues []securityIssue) domain.Verdict {
	var critical int
	for _, issue := range issues {
		t := strings.ToLower(issue.kind)
		if strings.Contains(t, "n+1") || strings.Contains(t, "blocking") {
			critical++
		}
	}
	if critical > 2 {
		return domain.VerdictReject
	}
	if len(issues) > 0 {
		return domain.VerdictWarn
	}
	return domain.VerdictApprove
}
