// Package analyzer implements the five independent code-review agents: diff,
// intent, security, performance, and test. Each is a stateless
// domain.Analyzer consuming one code_analysis_requested event and producing
// one verdict/confidence/payload triple.
package analyzer

import (
	"context"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

var addedFilePattern = regexp.MustCompile(`(?m)^\+\+\+ b/(.+)$`)

type changeType string

const (
	changeDB         changeType = "db"
	changeAPI        changeType = "api"
	changeUI         changeType = "ui"
	changeConfig     changeType = "config"
	changeDependency changeType = "dependency"
	changeTest       changeType = "test"
	changeDocs       changeType = "docs"
	changeOther      changeType = "other"
)

type riskLevel string

const (
	riskLow      riskLevel = "low"
	riskMedium   riskLevel = "medium"
	riskHigh     riskLevel = "high"
	riskCritical riskLevel = "critical"
)

// DiffAnalyzer categorizes the shape of a diff (files touched, lines churned,
// affected modules) and flags risk from change volume and type, never
// rejecting on its own.
type DiffAnalyzer struct{}

func (DiffAnalyzer) Name() string { return "diff" }

func (DiffAnalyzer) Analyze(_ context.Context, req domain.CodeAnalysisRequest) (domain.Verdict, float64, map[string]any, error) {
	files := changedFiles(req.Diff)
	added, deleted := countLines(req.Diff)
	types := categorizeChanges(files)
	modules := affectedModules(files)
	risk := diffRiskLevel(len(files), added, deleted, types)
	verdict := diffVerdict(risk)
	confidence := diffConfidence(len(files), req.Diff)

	payload := map[string]any{
		"files_changed":     len(files),
		"lines_added":       added,
		"lines_deleted":     deleted,
		"change_types":      types,
		"risk_level":        string(risk),
		"affected_modules":  modules,
	}
	return verdict, confidence, payload, nil
}

func changedFiles(diff string) []string {
	matches := addedFilePattern.FindAllStringSubmatch(diff, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func countLines(diff string) (added, deleted int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			deleted++
		}
	}
	return added, deleted
}

func categorizeChanges(files []string) []string {
	found := map[changeType]bool{}
	for _, f := range files {
		fl := strings.ToLower(f)
		switch {
		case containsAny(fl, "migration", "schema", "models.py", "alembic"):
			found[changeDB] = true
		case containsAny(fl, "api", "endpoint", "route", "controller"):
			found[changeAPI] = true
		}
		if containsAny(fl, ".jsx", ".tsx", ".vue", ".html", ".css", "component") {
			found[changeUI] = true
		}
		if containsAny(fl, "config", ".env", ".yaml", ".yml", ".json", "settings") {
			found[changeConfig] = true
		}
		if containsAny(fl, "requirements.txt", "package.json", "go.mod", "cargo.toml") {
			found[changeDependency] = true
		}
		if containsAny(fl, "test_", "_test.", "spec.", ".test.", "__test__") {
			found[changeTest] = true
		}
		if containsAny(fl, ".md", "readme", "docs/") {
			found[changeDocs] = true
		}
	}
	if len(found) == 0 {
		found[changeOther] = true
	}
	out := make([]string, 0, len(found))
	for t := range found {
		out = append(out, string(t))
	}
	return out
}

func affectedModules(files []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, f := range files {
		parts := strings.SplitN(f, "/", 2)
		if len(parts) > 1 && !seen[parts[0]] {
			seen[parts[0]] = true
			out = append(out, parts[0])
		}
	}
	return out
}

func diffRiskLevel(filesChanged, added, deleted int, types []string) riskLevel {
	total := added + deleted
	hasType := func(t changeType) bool {
		for _, v := range types {
			if v == string(t) {
				return true
			}
		}
		return false
	}

	if hasType(changeDB) && filesChanged > 1 {
		return riskCritical
	}
	if filesChanged > 20 || total > 1000 {
		return riskCritical
	}
	if hasType(changeDB) || hasType(changeDependency) {
		return riskHigh
	}
	if filesChanged > 10 || total > 500 {
		return riskHigh
	}
	if hasType(changeAPI) || filesChanged > 5 {
		return riskMedium
	}
	if len(types) == 1 && (hasType(changeTest) || hasType(changeDocs)) {
		return riskLow
	}
	return riskMedium
}

func diffVerdict(risk riskLevel) domain.Verdict {
	if risk == riskCritical || risk == riskHigh {
		return domain.VerdictWarn
	}
	return domain.VerdictApprove
}

func diffConfidence(filesChanged int, diff string) float64 {
	if filesChanged == 0 || diff == "" {
		return 0.3
	}
	if filesChanged < 20 {
		return 0.85
	}
	return 0.65
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
