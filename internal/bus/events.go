package bus

import (
	"time"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// CodeAnalysisRequestedEvent is the code_analysis_requested wire schema.
type CodeAnalysisRequestedEvent struct {
	JobID         string    `json:"job_id"`
	RepoName      string    `json:"repo_name"`
	CommitHash    string    `json:"commit_hash"`
	CommitMessage string    `json:"commit_message"`
	Diff          string    `json:"diff"`
	Branch        string    `json:"branch"`
	Author        string    `json:"author"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToRequest converts the wire event into the domain shape analyzers consume.
func (e CodeAnalysisRequestedEvent) ToRequest() domain.CodeAnalysisRequest {
	return domain.CodeAnalysisRequest{
		JobID:         e.JobID,
		RepoName:      e.RepoName,
		CommitHash:    e.CommitHash,
		CommitMessage: e.CommitMessage,
		Diff:          e.Diff,
		Branch:        e.Branch,
		Author:        e.Author,
		Timestamp:     e.Timestamp,
	}
}

// AgentResultEvent is the agent_results wire schema.
type AgentResultEvent struct {
	JobID      string          `json:"job_id"`
	AgentName  string          `json:"agent_name"`
	Verdict    domain.Verdict  `json:"verdict"`
	Confidence float64         `json:"confidence"`
	Payload    map[string]any  `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToAgentResult converts the wire event into the persisted domain shape.
func (e AgentResultEvent) ToAgentResult() domain.AgentResult {
	return domain.AgentResult{
		JobID:      e.JobID,
		AgentName:  e.AgentName,
		Verdict:    e.Verdict,
		Confidence: e.Confidence,
		Payload:    e.Payload,
		CreatedAt:  e.Timestamp,
	}
}

// ReleaseDecisionEvent is the release_decisions wire schema.
type ReleaseDecisionEvent struct {
	JobID        string                       `json:"job_id"`
	Decision     domain.Verdict               `json:"decision"`
	Explanation  string                       `json:"explanation"`
	AgentResults []domain.AgentResultSummary `json:"agent_results"`
	Timestamp    time.Time                    `json:"timestamp"`
}

// ToReleaseDecision converts the wire event into the persisted domain shape.
func (e ReleaseDecisionEvent) ToReleaseDecision() domain.ReleaseDecision {
	return domain.ReleaseDecision{
		JobID:               e.JobID,
		Decision:            e.Decision,
		Explanation:         e.Explanation,
		AgentResultsSummary: e.AgentResults,
		CreatedAt:           e.Timestamp,
	}
}
