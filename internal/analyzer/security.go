package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

type namedPattern struct {
	name    string
	pattern *regexp.Regexp
}

var secretPatterns = []namedPattern{
	{"AWS Key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"Generic API Key", regexp.MustCompile(`(?i)api[_-]?key["\s:=]+[a-zA-Z0-9]{20,}`)},
	{"Private Key", regexp.MustCompile(`-----BEGIN (?:RSA|OPENSSH|DSA|EC) PRIVATE KEY-----`)},
	{"Password in Code", regexp.MustCompile(`(?i)password["\s:=]+["'][^"']{8,}["']`)},
	{"JWT Token", regexp.MustCompile(`eyJ[A-Za-z0-9-_=]+\.eyJ[A-Za-z0-9-_=]+\.?[A-Za-z0-9-_.+/=]*`)},
	{"GitHub Token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)},
	{"Slack Token", regexp.MustCompile(`xox[baprs]-[0-9]{10,12}-[0-9]{10,12}-[a-zA-Z0-9]{24,}`)},
}

var vulnerabilityPatterns = []namedPattern{
	{"SQL Injection Risk", regexp.MustCompile(`(?i)execute\([^)]*\+[^)]*\)|"SELECT.*" \+ |'SELECT.*' \+ `)},
	{"Command Injection", regexp.MustCompile(`(?i)os\.system\(|subprocess\.call\([^)]*\+|exec\(`)},
	{"Hardcoded Secret", regexp.MustCompile(`(?i)secret[_-]?key\s*=\s*["'][^"']+["']`)},
	{"Insecure Random", regexp.MustCompile(`random\.random\(\)|Math\.random\(\)`)},
	{"Eval Usage", regexp.MustCompile(`\beval\(|\bexec\(`)},
}

type securityIssue struct {
	kind    string
	line    int
	details string
}

// SecurityAnalyzer scans only the added lines of a diff for hardcoded
// secrets and known-risky code patterns. It rejects outright on any
// detected secret or critical vulnerability (injection/eval/exec), matching
// the critical-agent treatment given to security in the arbiter.
type SecurityAnalyzer struct{}

func (SecurityAnalyzer) Name() string { return "security" }

func (SecurityAnalyzer) Analyze(_ context.Context, req domain.CodeAnalysisRequest) (domain.Verdict, float64, map[string]any, error) {
	secretsDetected, secretIssues := detectSecrets(req.Diff)
	vulnIssues := detectVulnerabilities(req.Diff)
	allIssues := append(secretIssues, vulnIssues...)

	score := securityScore(secretsDetected, len(vulnIssues))
	verdict := securityVerdict(secretsDetected, allIssues)
	confidence := securityConfidence(secretsDetected, allIssues)

	vulns := make([]map[string]any, 0, len(allIssues))
	issueDetails := make([]string, 0, len(allIssues))
	for _, issue := range allIssues {
		vulns = append(vulns, map[string]any{
			"type":    issue.kind,
			"line":    issue.line,
			"details": issue.details,
		})
		issueDetails = append(issueDetails, issue.details)
	}

	payload := map[string]any{
		"secrets_detected": secretsDetected,
		"vulnerabilities":  vulns,
		"security_score":   score,
		"issues":           issueDetails,
	}
	return verdict, confidence, payload, nil
}

// addedLines returns each +-prefixed diff line with its + stripped, numbered
// from 1 over the raw diff lines (matching the original agent's line
// numbering, which counts every diff line, not just additions).
func addedLines(diff string) map[int]string {
	out := map[int]string{}
	for i, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+") {
			out[i+1] = line[1:]
		}
	}
	return out
}

func detectSecrets(diff string) (bool, []securityIssue) {
	var issues []securityIssue
	for lineNum, content := range addedLines(diff) {
		for _, p := range secretPatterns {
			if p.pattern.MatchString(content) {
				issues = append(issues, securityIssue{
					kind:    "Secret Exposure",
					line:    lineNum,
					details: fmt.Sprintf("%s detected in code", p.name),
				})
			}
		}
	}
	return len(issues) > 0, issues
}

func detectVulnerabilities(diff string) []securityIssue {
	var issues []securityIssue
	for lineNum, content := range addedLines(diff) {
		for _, p := range vulnerabilityPatterns {
			if p.pattern.MatchString(content) {
				issues = append(issues, securityIssue{
					kind:    "Vulnerability",
					line:    lineNum,
					details: fmt.Sprintf("Potential %s", p.name),
				})
			}
		}
	}
	return issues
}

func securityScore(secretsDetected bool, numVulnerabilities int) float64 {
	score := 1.0
	if secretsDetected {
		score -= 0.5
	}
	score -= float64(numVulnerabilities) * 0.1
	if score < 0 {
		return 0
	}
	return score
}

func securityVerdict(secretsDetected bool, allIssues []securityIssue) domain.Verdict {
	if secretsDetected {
		return domain.VerdictReject
	}
	for _, issue := range allIssues {
		d := strings.ToLower(issue.details)
		if strings.Contains(d, "injection") || strings.Contains(d, "eval") || strings.Contains(d, "exec") {
			return domain.VerdictReject
		}
	}
	if len(allIssues) > 0 {
		return domain.VerdictWarn
	}
	return domain.VerdictApprove
}

func securityConfidence(secretsDetected bool, allIssues []securityIssue) float64 {
	if secretsDetected {
		return 0.95
	}
	for _, issue := range allIssues {
		if strings.Contains(strings.ToLower(issue.details), "injection") {
			return 0.90
		}
	}
	if len(allIssues) > 0 {
		return 0.75
	}
	return 0.85
}
