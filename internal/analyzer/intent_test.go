package analyzer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/analyzer"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

func TestIntentAnalyzerRejectsVagueMessage(t *testing.T) {
	req := domain.CodeAnalysisRequest{
		CommitMessage: "fix",
		Diff:          "+++ b/internal/service.go\n+x := 1\n",
	}
	verdict, _, payload, err := analyzer.IntentAnalyzer{}.Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictReject, verdict)
	require.Equal(t, true, payload["vague_message"])
}

func TestIntentAnalyzerApprovesConventionalCommit(t *testing.T) {
	req := domain.CodeAnalysisRequest{
		CommitMessage: "feat(gateway): accept branch and author fields on submission",
		Diff:          "+++ b/internal/usecase/gateway.go\n+x := 1\n",
	}
	verdict, _, payload, err := analyzer.IntentAnalyzer{}.Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictApprove, verdict)
	require.Equal(t, true, payload["conventional_commit"])
}
