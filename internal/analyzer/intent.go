package analyzer

import (
	"context"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

var conventionalCommitPattern = regexp.MustCompile(
	`(?i)^(feat|fix|docs|style|refactor|perf|test|build|ci|chore|revert)(\([a-z0-9_/-]+\))?!?:\s.+`,
)

var vagueMessagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(fix|update|changes?|wip|stuff|misc|minor)\.?$`),
	regexp.MustCompile(`(?i)^fix(ed|es|ing)? (bug|issue|error)s?\.?$`),
	regexp.MustCompile(`(?i)^(quick|small|minor) (fix|change|update)\.?$`),
}

// IntentAnalyzer checks whether the commit message accurately describes what
// the diff actually changes: conventional-commit form, message/diff
// alignment by change type, and length/specificity.
type IntentAnalyzer struct{}

func (IntentAnalyzer) Name() string { return "intent" }

func (IntentAnalyzer) Analyze(_ context.Context, req domain.CodeAnalysisRequest) (domain.Verdict, float64, map[string]any, error) {
	msg := strings.TrimSpace(req.CommitMessage)
	files := changedFiles(req.Diff)
	types := categorizeChanges(files)

	isConventional := conventionalCommitPattern.MatchString(msg)
	isVague := isVagueMessage(msg)
	mismatch := messageTypeMismatch(msg, types)

	score := 1.0
	var issues []string

	if isVague {
		score -= 0.4
		issues = append(issues, "commit message is too vague to convey intent")
	}
	if !isConventional {
		score -= 0.15
		issues = append(issues, "commit message does not follow conventional-commit format")
	}
	if mismatch != "" {
		score -= 0.3
		issues = append(issues, mismatch)
	}
	if len(msg) < 10 {
		score -= 0.2
		issues = append(issues, "commit message is too short")
	}
	if score < 0 {
		score = 0
	}

	verdict := intentVerdict(score)
	payload := map[string]any{
		"conventional_commit": isConventional,
		"vague_message":       isVague,
		"intent_score":        score,
		"issues":              issues,
	}
	return verdict, intentConfidence(msg), payload, nil
}

func isVagueMessage(msg string) bool {
	for _, p := range vagueMessagePatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

func messageTypeMismatch(msg string, types []string) string {
	lower := strings.ToLower(msg)
	hasType := func(t changeType) bool {
		for _, v := range types {
			if v == string(t) {
				return true
			}
		}
		return false
	}
	if strings.HasPrefix(lower, "fix") && hasType(changeDependency) && !hasType(changeTest) {
		return ""
	}
	if strings.Contains(lower, "test") && !hasType(changeTest) && len(types) > 0 {
		return "message mentions tests but no test files changed"
	}
	if strings.Contains(lower, "doc") && !hasType(changeDocs) && len(types) > 0 {
		return "message mentions docs but no documentation files changed"
	}
	if hasType(changeDB) && !strings.Contains(lower, "migrat") && !strings.Contains(lower, "schema") && !strings.Contains(lower, "db") {
		return "schema/migration files changed but message does not mention it"
	}
	return ""
}

func intentVerdict(score float64) domain.Verdict {
	switch {
	case score < 0.4:
		return domain.VerdictReject
	case score < 0.7:
		return domain.VerdictWarn
	default:
		return domain.VerdictApprove
	}
}

func intentConfidence(msg string) float64 {
	if msg == "" {
		return 0.4
	}
	return 0.75
}
