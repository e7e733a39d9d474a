package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

func TestAgentResultRepo_Upsert(t *testing.T) {
	repo := postgres.NewAgentResultRepo(&poolStub{})
	err := repo.Upsert(context.Background(), domain.AgentResult{
		JobID: "job-1", AgentName: "security", Verdict: domain.VerdictApprove, Confidence: 0.9,
		Payload: map[string]any{"findings": 0},
	})
	require.NoError(t, err)
}

func TestAgentResultRepo_Upsert_PropagatesExecError(t *testing.T) {
	repo := postgres.NewAgentResultRepo(&poolStub{execErr: errors.New("boom")})
	err := repo.Upsert(context.Background(), domain.AgentResult{JobID: "job-1", AgentName: "diff"})
	require.Error(t, err)
}
