// Package orchestrator mirrors bus events into durable storage: it is the
// only writer of agent results, release decisions, and job-status
// transitions, so the Gateway's read API never has to touch the bus.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// Orchestrator runs two independent consumer loops, both under the single
// "orchestrator" consumer group: one mirrors agent_results into the agent
// results table and flips the job to processing, the other mirrors
// release_decisions into the decisions table and flips the job to
// completed.
type Orchestrator struct {
	Jobs      domain.JobRepository
	Results   domain.AgentResultRepository
	Decisions domain.ReleaseDecisionRepository
	Bus       *bus.Bus
}

// New constructs an Orchestrator.
func New(jobs domain.JobRepository, results domain.AgentResultRepository, decisions domain.ReleaseDecisionRepository, b *bus.Bus) *Orchestrator {
	return &Orchestrator{Jobs: jobs, Results: results, Decisions: decisions, Bus: b}
}

const consumerGroup = "orchestrator"
const consumerName = "orchestrator-1"

// AgentResultsConsumer builds the consumer mirroring agent_results. opts
// customize the underlying bus.Consumer's polling cadence.
func (o *Orchestrator) AgentResultsConsumer(opts ...bus.ConsumerOption) *bus.Consumer {
	return bus.NewConsumer(o.Bus, bus.TopicAgentResults, consumerGroup, consumerName, o.handleAgentResult, opts...)
}

// ReleaseDecisionsConsumer builds the consumer mirroring release_decisions.
// opts customize the underlying bus.Consumer's polling cadence.
func (o *Orchestrator) ReleaseDecisionsConsumer(opts ...bus.ConsumerOption) *bus.Consumer {
	return bus.NewConsumer(o.Bus, bus.TopicReleaseDecisions, consumerGroup, consumerName, o.handleReleaseDecision, opts...)
}

func (o *Orchestrator) handleAgentResult(ctx context.Context, msg bus.Message) error {
	var event bus.AgentResultEvent
	if err := json.Unmarshal([]byte(msg.Data), &event); err != nil {
		return fmt.Errorf("op=orchestrator.handleAgentResult decode: %w", err)
	}
	result := event.ToAgentResult()

	if err := o.Results.Upsert(ctx, result); err != nil {
		observability.RecordOrchestratorMirror("agent_result", "error")
		return fmt.Errorf("op=orchestrator.handleAgentResult upsert job_id=%s agent=%s: %w", result.JobID, result.AgentName, err)
	}
	if err := o.Jobs.MarkProcessing(ctx, result.JobID); err != nil {
		observability.RecordOrchestratorMirror("agent_result", "error")
		return fmt.Errorf("op=orchestrator.handleAgentResult mark_processing job_id=%s: %w", result.JobID, err)
	}

	observability.RecordOrchestratorMirror("agent_result", "ok")
	slog.Info("orchestrator mirrored agent result",
		slog.String("job_id", result.JobID), slog.String("agent", result.AgentName), slog.String("verdict", string(result.Verdict)))
	return nil
}

func (o *Orchestrator) handleReleaseDecision(ctx context.Context, msg bus.Message) error {
	var event bus.ReleaseDecisionEvent
	if err := json.Unmarshal([]byte(msg.Data), &event); err != nil {
		return fmt.Errorf("op=orchestrator.handleReleaseDecision decode: %w", err)
	}
	decision := event.ToReleaseDecision()

	if err := o.Decisions.Create(ctx, decision); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A decision for this job already landed; the bus's at-least-once
			// delivery redelivered it. Treat as already-applied, not a failure.
			slog.Info("orchestrator skipped duplicate release decision", slog.String("job_id", decision.JobID))
			observability.RecordOrchestratorMirror("release_decision", "duplicate")
			return nil
		}
		observability.RecordOrchestratorMirror("release_decision", "error")
		return fmt.Errorf("op=orchestrator.handleReleaseDecision create job_id=%s: %w", decision.JobID, err)
	}
	if err := o.Jobs.MarkCompleted(ctx, decision.JobID); err != nil {
		observability.RecordOrchestratorMirror("release_decision", "error")
		return fmt.Errorf("op=orchestrator.handleReleaseDecision mark_completed job_id=%s: %w", decision.JobID, err)
	}

	if job, err := o.Jobs.Get(ctx, decision.JobID); err == nil {
		observability.CompleteJob(job.RepoName, string(decision.Decision))
	}

	observability.RecordOrchestratorMirror("release_decision", "ok")
	slog.Info("orchestrator finalized job",
		slog.String("job_id", decision.JobID), slog.String("decision", string(decision.Decision)))
	return nil
}
