package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
	"github.com/fairyhunter13/ci-release-arbiter/internal/usecase"
)

type fakeQueryJobRepo struct {
	job    domain.Job
	getErr error
	list   []domain.Job
}

func (f *fakeQueryJobRepo) Create(context.Context, domain.Job) (string, error) { return "", nil }
func (f *fakeQueryJobRepo) UpdateStatus(context.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (f *fakeQueryJobRepo) MarkProcessing(context.Context, string) error { return nil }
func (f *fakeQueryJobRepo) MarkCompleted(context.Context, string) error  { return nil }
func (f *fakeQueryJobRepo) Get(context.Context, string) (domain.Job, error) {
	if f.getErr != nil {
		return domain.Job{}, f.getErr
	}
	return f.job, nil
}
func (f *fakeQueryJobRepo) List(context.Context, string, int) ([]domain.Job, error) {
	return f.list, nil
}

type fakeResultQueryRepo struct {
	results []domain.AgentResult
}

func (f *fakeResultQueryRepo) Upsert(context.Context, domain.AgentResult) error { return nil }
func (f *fakeResultQueryRepo) ListByJobID(context.Context, string) ([]domain.AgentResult, error) {
	return f.results, nil
}

type fakeDecisionQueryRepo struct {
	decision domain.ReleaseDecision
	err      error
}

func (f *fakeDecisionQueryRepo) Create(context.Context, domain.ReleaseDecision) error { return nil }
func (f *fakeDecisionQueryRepo) GetByJobID(context.Context, string) (domain.ReleaseDecision, error) {
	if f.err != nil {
		return domain.ReleaseDecision{}, f.err
	}
	return f.decision, nil
}

func TestGetJobLeavesDecisionNilWhenNotYetDecided(t *testing.T) {
	jobs := &fakeQueryJobRepo{job: domain.Job{ID: "job-1", Status: domain.JobProcessing}}
	results := &fakeResultQueryRepo{results: []domain.AgentResult{{JobID: "job-1", AgentName: "diff"}}}
	decisions := &fakeDecisionQueryRepo{err: domain.ErrNotFound}

	svc := usecase.NewJobQueryService(jobs, results, decisions)
	detail, err := svc.GetJob(context.Background(), "job-1")

	require.NoError(t, err)
	require.Nil(t, detail.Decision)
	require.Len(t, detail.AgentResults, 1)
}

func TestGetJobPopulatesDecisionWhenPresent(t *testing.T) {
	jobs := &fakeQueryJobRepo{job: domain.Job{ID: "job-2", Status: domain.JobCompleted}}
	results := &fakeResultQueryRepo{}
	decisions := &fakeDecisionQueryRepo{decision: domain.ReleaseDecision{JobID: "job-2", Decision: domain.VerdictApprove}}

	svc := usecase.NewJobQueryService(jobs, results, decisions)
	detail, err := svc.GetJob(context.Background(), "job-2")

	require.NoError(t, err)
	require.NotNil(t, detail.Decision)
	require.Equal(t, domain.VerdictApprove, detail.Decision.Decision)
}

func TestGetJobPropagatesUnexpectedDecisionError(t *testing.T) {
	jobs := &fakeQueryJobRepo{job: domain.Job{ID: "job-3"}}
	results := &fakeResultQueryRepo{}
	decisions := &fakeDecisionQueryRepo{err: errors.New("db down")}

	svc := usecase.NewJobQueryService(jobs, results, decisions)
	_, err := svc.GetJob(context.Background(), "job-3")

	require.Error(t, err)
}

func TestGetJobFailsWhenJobMissing(t *testing.T) {
	jobs := &fakeQueryJobRepo{getErr: domain.ErrNotFound}
	svc := usecase.NewJobQueryService(jobs, &fakeResultQueryRepo{}, &fakeDecisionQueryRepo{})

	_, err := svc.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListJobsReturnsStoreResults(t *testing.T) {
	jobs := &fakeQueryJobRepo{list: []domain.Job{{ID: "a"}, {ID: "b"}}}
	svc := usecase.NewJobQueryService(jobs, &fakeResultQueryRepo{}, &fakeDecisionQueryRepo{})

	got, err := svc.ListJobs(context.Background(), "svc", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
