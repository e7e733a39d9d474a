package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// JobDetail is the assembled view returned by GET /api/v1/jobs/{job_id}:
// the job row plus whatever agent results and release decision exist so far.
type JobDetail struct {
	Job          domain.Job
	AgentResults []domain.AgentResult
	Decision     *domain.ReleaseDecision
}

// JobQueryService answers job-status and job-listing reads against the store.
// It never touches the bus: once a job is persisted, its lifecycle is driven
// entirely by the orchestrator mirroring bus events into these same tables.
type JobQueryService struct {
	Jobs      domain.JobRepository
	Results   domain.AgentResultRepository
	Decisions domain.ReleaseDecisionRepository
}

// NewJobQueryService constructs a JobQueryService.
func NewJobQueryService(jobs domain.JobRepository, results domain.AgentResultRepository, decisions domain.ReleaseDecisionRepository) *JobQueryService {
	return &JobQueryService{Jobs: jobs, Results: results, Decisions: decisions}
}

// GetJob assembles the full detail view for jobID. A missing release
// decision is not an error: the job may simply not have reached a verdict
// yet, so Decision is left nil.
func (s *JobQueryService) GetJob(ctx context.Context, jobID string) (JobDetail, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return JobDetail{}, fmt.Errorf("op=usecase.GetJob get: %w", err)
	}
	results, err := s.Results.ListByJobID(ctx, jobID)
	if err != nil {
		return JobDetail{}, fmt.Errorf("op=usecase.GetJob results: %w", err)
	}
	detail := JobDetail{Job: job, AgentResults: results}
	decision, err := s.Decisions.GetByJobID(ctx, jobID)
	switch {
	case err == nil:
		detail.Decision = &decision
	case errors.Is(err, domain.ErrNotFound):
		// No verdict yet; leave Decision nil.
	default:
		return JobDetail{}, fmt.Errorf("op=usecase.GetJob decision: %w", err)
	}
	return detail, nil
}

// ListJobs returns up to limit jobs, optionally filtered by repoName.
func (s *JobQueryService) ListJobs(ctx context.Context, repoName string, limit int) ([]domain.Job, error) {
	jobs, err := s.Jobs.List(ctx, repoName, limit)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.ListJobs: %w", err)
	}
	return jobs, nil
}
