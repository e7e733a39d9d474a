package analyzer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/analyzer"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

func TestPerformanceAnalyzerApprovesCleanDiff(t *testing.T) {
	diff := "+func Add(a, b int) int { return a + b }\n"
	verdict, confidence, payload, err := analyzer.PerformanceAnalyzer{}.Analyze(context.Background(), domain.CodeAnalysisRequest{Diff: diff})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictApprove, verdict)
	require.Equal(t, 0.75, confidence)
	require.Equal(t, 0, payload["blocking_calls"])
}

func TestPerformanceAnalyzerFlagsBlockingCall(t *testing.T) {
	diff := "+time.sleep(5)\n"
	verdict, _, payload, err := analyzer.PerformanceAnalyzer{}.Analyze(context.Background(), domain.CodeAnalysisRequest{Diff: diff})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictWarn, verdict)
	require.Equal(t, 1, payload["blocking_calls"])
}
