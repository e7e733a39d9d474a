package analyzer

import (
	"context"
	"strings"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// nonTestableExtensions are implementation file suffixes that never get a
// dedicated test file and are excluded from the untested-paths count.
var nonTestableExtensions = []string{".md", ".json", ".yaml", ".yml", ".txt"}

// TestAnalyzer estimates whether a change carries adequate test coverage by
// comparing the count and naming of test files against implementation files
// in the diff; it never inspects coverage tooling output directly.
type TestAnalyzer struct{}

func (TestAnalyzer) Name() string { return "test" }

func (TestAnalyzer) Analyze(_ context.Context, req domain.CodeAnalysisRequest) (domain.Verdict, float64, map[string]any, error) {
	testFiles, implFiles := categorizeTestFiles(changedFiles(req.Diff))
	coverageDelta := estimateCoverageDelta(testFiles, implFiles)
	untested := identifyUntestedPaths(implFiles, testFiles)
	score := testScore(len(testFiles), len(implFiles), len(untested))
	verdict := testVerdict(len(testFiles), len(implFiles), len(untested))

	payload := map[string]any{
		"tests_affected":  len(testFiles),
		"coverage_delta":  coverageDelta,
		"untested_paths":  untested,
		"test_score":      score,
	}
	return verdict, 0.70, payload, nil
}

func categorizeTestFiles(files []string) (testFiles, implFiles []string) {
	for _, f := range files {
		fl := strings.ToLower(f)
		if containsAny(fl, "test_", "_test.", "spec.", ".test.", "__test__", "/tests/") {
			testFiles = append(testFiles, f)
		} else {
			implFiles = append(implFiles, f)
		}
	}
	return testFiles, implFiles
}

func estimateCoverageDelta(testFiles, implFiles []string) float64 {
	if len(implFiles) == 0 {
		return 0.0
	}
	ratio := float64(len(testFiles)) / float64(len(implFiles))
	coverageEstimate := ratio * 0.6
	if coverageEstimate > 1.0 {
		coverageEstimate = 1.0
	}
	if coverageEstimate < 0.5 {
		return -(0.5 - coverageEstimate)
	}
	return 0.0
}

func identifyUntestedPaths(implFiles, testFiles []string) []string {
	untested := []string{}
	for _, impl := range implFiles {
		skip := false
		for _, ext := range nonTestableExtensions {
			if strings.HasSuffix(impl, ext) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		base := impl
		if i := strings.LastIndex(impl, "."); i >= 0 {
			base = impl[:i]
		}
		hasTest := false
		for _, tf := range testFiles {
			if strings.Contains(tf, base) {
				hasTest = true
				break
			}
		}
		if !hasTest {
			untested = append(untested, impl)
		}
	}
	return untested
}

func testScore(numTests, numImpl, numUntested int) float64 {
	if numImpl == 0 {
		return 1.0
	}
	denom := numImpl
	if denom < 1 {
		denom = 1
	}
	testRatio := float64(numTests) / float64(denom)
	baseScore := testRatio
	if baseScore > 1.0 {
		baseScore = 1.0
	}
	untestedRatio := float64(numUntested) / float64(numImpl)
	penalty := untestedRatio * 0.5
	score := baseScore - penalty
	if score < 0 {
		return 0
	}
	return score
}

func testVerdict(numTests, numImpl, numUntested int) domain.Verdict {
	if numImpl == 0 {
		return domain.VerdictApprove
	}
	if numTests == 0 {
		if numImpl > 3 {
			return domain.VerdictReject
		}
		return domain.VerdictWarn
	}
	untestedRatio := float64(numUntested) / float64(numImpl)
	if untestedRatio > 0.7 {
		return domain.VerdictWarn
	}
	return domain.VerdictApprove
}
