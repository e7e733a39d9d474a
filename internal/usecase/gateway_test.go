package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
	"github.com/fairyhunter13/ci-release-arbiter/internal/usecase"
)

type fakeJobRepo struct {
	created domain.Job
	createErr error
}

func (f *fakeJobRepo) Create(_ context.Context, j domain.Job) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = j
	return "generated-id", nil
}
func (f *fakeJobRepo) UpdateStatus(context.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (f *fakeJobRepo) MarkProcessing(context.Context, string) error { return nil }
func (f *fakeJobRepo) MarkCompleted(context.Context, string) error  { return nil }
func (f *fakeJobRepo) Get(context.Context, string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (f *fakeJobRepo) List(context.Context, string, int) ([]domain.Job, error) { return nil, nil }

type fakePublisher struct {
	published bool
	publishErr error
}

func (f *fakePublisher) Publish(context.Context, string, []byte) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = true
	return "1-0", nil
}

func TestCreateJobPersistsThenPublishes(t *testing.T) {
	jobs := &fakeJobRepo{}
	pub := &fakePublisher{}
	svc := usecase.NewCreateJobService(jobs, pub)

	job, publishErr, err := svc.CreateJob(context.Background(), usecase.CreateJobRequest{
		RepoName: "svc", CommitHash: "abc123", CommitMessage: "feat: add thing", Diff: "+x\n",
	})

	require.NoError(t, err)
	require.Nil(t, publishErr)
	require.Equal(t, "generated-id", job.ID)
	require.Equal(t, domain.JobPending, job.Status)
	require.True(t, pub.published)
	require.Equal(t, "generated-id", jobs.created.ID)
}

func TestCreateJobReturnsJobWithPublishErrorWhenBusFails(t *testing.T) {
	jobs := &fakeJobRepo{}
	pub := &fakePublisher{publishErr: errors.New("redis unavailable")}
	svc := usecase.NewCreateJobService(jobs, pub)

	job, publishErr, err := svc.CreateJob(context.Background(), usecase.CreateJobRequest{RepoName: "svc", CommitHash: "abc123"})

	require.NoError(t, err)
	require.Error(t, publishErr)
	require.Equal(t, "generated-id", job.ID, "the job must still be returned: it was durably persisted before the publish failed")
}

func TestCreateJobFailsWhenStoreFails(t *testing.T) {
	jobs := &fakeJobRepo{createErr: errors.New("db down")}
	pub := &fakePublisher{}
	svc := usecase.NewCreateJobService(jobs, pub)

	_, publishErr, err := svc.CreateJob(context.Background(), usecase.CreateJobRequest{RepoName: "svc"})

	require.Error(t, err)
	require.Nil(t, publishErr)
	require.False(t, pub.published, "a job that never persisted must never be announced on the bus")
}
