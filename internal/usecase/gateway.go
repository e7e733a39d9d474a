// Package usecase implements application-level orchestration between the
// domain model and its adapters (bus, repositories).
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// Publisher is the subset of bus.Bus the gateway needs to announce a new job.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// CreateJobRequest is the validated input to CreateJobService.CreateJob.
type CreateJobRequest struct {
	RepoName      string
	CommitHash    string
	CommitMessage string
	Diff          string
	Branch        string
	Author        string
}

// CreateJobService persists a new job and announces it on the bus. Per the
// ordering invariant between the store and the message bus, the row is
// durable before the event is ever published: a publish failure after a
// successful persist still leaves the job queryable (as permanently pending)
// rather than risking an analyzer race against a job the store doesn't know
// about yet.
type CreateJobService struct {
	Jobs      domain.JobRepository
	Publisher Publisher
}

// NewCreateJobService constructs a CreateJobService.
func NewCreateJobService(jobs domain.JobRepository, publisher Publisher) *CreateJobService {
	return &CreateJobService{Jobs: jobs, Publisher: publisher}
}

// CreateJob persists req as a pending job, publishes the code_analysis_requested
// event, and returns the created job. publishErr is non-nil exactly when the
// job was persisted but the event failed to publish; the caller decides
// whether that still counts as a successful submission.
func (s *CreateJobService) CreateJob(ctx context.Context, req CreateJobRequest) (job domain.Job, publishErr error, err error) {
	now := time.Now().UTC()
	job = domain.Job{
		ID:            uuid.NewString(),
		RepoName:      req.RepoName,
		CommitHash:    req.CommitHash,
		CommitMessage: req.CommitMessage,
		Branch:        req.Branch,
		Author:        req.Author,
		Status:        domain.JobPending,
		CreatedAt:     now,
	}

	id, err := s.Jobs.Create(ctx, job)
	if err != nil {
		return domain.Job{}, nil, fmt.Errorf("op=usecase.CreateJob create: %w", err)
	}
	job.ID = id
	observability.EnqueueJob(job.RepoName)

	event := bus.CodeAnalysisRequestedEvent{
		JobID:         job.ID,
		RepoName:      job.RepoName,
		CommitHash:    job.CommitHash,
		CommitMessage: job.CommitMessage,
		Diff:          req.Diff,
		Branch:        job.Branch,
		Author:        job.Author,
		Timestamp:     now,
	}
	payload, mErr := marshalEvent(event)
	if mErr != nil {
		return job, fmt.Errorf("op=usecase.CreateJob marshal: %w", mErr), nil
	}
	if _, pubErr := s.Publisher.Publish(ctx, bus.TopicCodeAnalysisRequested, payload); pubErr != nil {
		return job, fmt.Errorf("op=usecase.CreateJob publish: %w", pubErr), nil
	}
	return job, nil, nil
}
