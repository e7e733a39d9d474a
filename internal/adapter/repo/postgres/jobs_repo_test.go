package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

func TestJobRepo_Create_GeneratesIDWhenEmpty(t *testing.T) {
	repo := postgres.NewJobRepo(&poolStub{})
	id, err := repo.Create(context.Background(), domain.Job{RepoName: "acme/widget", CommitHash: "abc123"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestJobRepo_Create_PropagatesExecError(t *testing.T) {
	repo := postgres.NewJobRepo(&poolStub{execErr: errors.New("boom")})
	_, err := repo.Create(context.Background(), domain.Job{ID: "job-1"})
	require.Error(t, err)
}

func TestJobRepo_Get_NotFound(t *testing.T) {
	repo := postgres.NewJobRepo(&poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}})
	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
