// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInternal          = errors.New("internal error")
)

// JobStatus captures the lifecycle state of a code-review job.
type JobStatus string

// Job status values. Transitions are monotonic: pending -> processing ->
// completed, with failed reachable from any non-completed state via an
// administrative path only (see internal/app for the sweep that would drive
// it; the arbiter's own "no analyzer reported" output still produces a
// completed job with a reject decision).
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Verdict is the per-agent or final release verdict. skip is a valid
// per-agent verdict but must never be published as a final ReleaseDecision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictWarn    Verdict = "warn"
	VerdictReject  Verdict = "reject"
	VerdictSkip    Verdict = "skip"
)

// Job is the domain model for a code-review job. Created by the Gateway;
// mutated only by the Orchestrator; never destroyed (retained for audit).
type Job struct {
	ID            string
	RepoName      string
	CommitHash    string
	CommitMessage string
	Branch        string
	Author        string
	Status        JobStatus
	Error         string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// AgentResult is one analyzer's verdict on a job. Logically unique on
// (JobID, AgentName); the store enforces this with an upsert so duplicate
// bus deliveries do not produce duplicate rows.
type AgentResult struct {
	JobID      string
	AgentName  string
	Verdict    Verdict
	Confidence float64
	Payload    map[string]any
	CreatedAt  time.Time
}

// AgentResultSummary is the compact per-agent line embedded in a
// ReleaseDecision and in the Gateway's job-status response.
type AgentResultSummary struct {
	AgentName  string  `json:"agent_name"`
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

// ReleaseDecision is the arbiter's one-and-only verdict for a Job. Unique on
// JobID; a second insert for the same JobID is rejected by the store and
// silently dropped by the orchestrator.
type ReleaseDecision struct {
	JobID               string
	Decision            Verdict
	Explanation         string
	AgentResultsSummary []AgentResultSummary
	CreatedAt           time.Time
}

// Repositories (ports)

// JobRepository persists and queries Job rows. Create/UpdateStatus are the
// only mutators; Orchestrator is the sole caller of UpdateStatus per I2/I6.
type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	UpdateStatus(ctx Context, id string, status JobStatus, errMsg *string) error
	MarkProcessing(ctx Context, id string) error
	MarkCompleted(ctx Context, id string) error
	Get(ctx Context, id string) (Job, error)
	List(ctx Context, repoName string, limit int) ([]Job, error)
}

// AgentResultRepository persists per-agent verdicts, keyed by (job_id, agent_name).
type AgentResultRepository interface {
	Upsert(ctx Context, r AgentResult) error
	ListByJobID(ctx Context, jobID string) ([]AgentResult, error)
}

// ReleaseDecisionRepository persists the one-per-job final decision.
type ReleaseDecisionRepository interface {
	// Create inserts a decision. Implementations return ErrConflict when a
	// decision already exists for JobID (unique constraint on job_id) so
	// callers can treat re-delivery as a no-op rather than a hard failure.
	Create(ctx Context, d ReleaseDecision) error
	GetByJobID(ctx Context, jobID string) (ReleaseDecision, error)
}

// CodeAnalysisRequest is the payload carried on the code_analysis_requested
// topic: everything an analyzer needs to evaluate a change, without
// touching the store.
type CodeAnalysisRequest struct {
	JobID         string    `json:"job_id"`
	RepoName      string    `json:"repo_name"`
	CommitHash    string    `json:"commit_hash"`
	CommitMessage string    `json:"commit_message"`
	Diff          string    `json:"diff"`
	Branch        string    `json:"branch"`
	Author        string    `json:"author"`
	Timestamp     time.Time `json:"timestamp"`
}

// Analyzer is the uniform capability every analyzer worker implements. The
// arbiter and orchestrator never know concrete analyzer types; only Name and
// the (verdict, confidence, payload) contract matter.
type Analyzer interface {
	// Name is a stable, lowercase identifier unique across analyzers (e.g.
	// "diff", "security"); it doubles as the agent_name field and as the
	// suffix of the analyzer's consumer group ("<name>_group").
	Name() string
	// Analyze must be idempotent: the same request produces an equivalent
	// result on every call.
	Analyze(ctx Context, req CodeAnalysisRequest) (verdict Verdict, confidence float64, payload map[string]any, err error)
}

// Context is a type alias to stdlib context.Context for convenience across
// layers that want to avoid importing "context" directly in domain code.
type Context = context.Context
