// Package arbiter aggregates the five analyzers' independent verdicts into
// one weighted release decision per job.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// agentWeights are the static per-agent contributions to the weighted
// release score; they must sum to 1.0.
var agentWeights = map[string]float64{
	"security":    0.35,
	"intent":      0.25,
	"performance": 0.20,
	"test":        0.20,
	"diff":        0.10,
}

// expectedAgents is the full set of analyzers a job must hear from before
// the arbiter decides early, rather than waiting out the full timeout.
var expectedAgents = map[string]bool{
	"diff": true, "intent": true, "security": true, "performance": true, "test": true,
}

// criticalAgents veto the weighted score: a REJECT from either one forces
// the job's final verdict to reject regardless of the overall score.
var criticalAgents = map[string]bool{"security": true, "intent": true}

var verdictScore = map[domain.Verdict]float64{
	domain.VerdictApprove: 1.0,
	domain.VerdictWarn:    0.5,
	domain.VerdictReject:  0.0,
	domain.VerdictSkip:    0.5,
}

type jobState struct {
	results []domain.AgentResult
	decided bool
	cancel  context.CancelFunc
}

// Arbiter consumes agent_results, aggregates per job in memory, and
// publishes one release_decisions event per job once either every expected
// analyzer has reported or the wait timeout elapses, whichever comes first.
type Arbiter struct {
	Bus         *bus.Bus
	WaitTimeout time.Duration

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New constructs an Arbiter.
func New(b *bus.Bus, waitTimeout time.Duration) *Arbiter {
	return &Arbiter{Bus: b, WaitTimeout: waitTimeout, jobs: make(map[string]*jobState)}
}

// Consumer builds the bus.Consumer this arbiter runs under. All replicas
// share the single "arbiter" consumer group so a job's results fan in to
// whichever replica happens to read them; cross-replica aggregation
// correctness for a split job is covered by the wait-timeout fallback and
// the store's uniqueness constraint, not by sticky partitioning. opts
// customize the underlying bus.Consumer's polling cadence.
func (a *Arbiter) Consumer(consumerName string, opts ...bus.ConsumerOption) *bus.Consumer {
	if consumerName == "" {
		consumerName = "arbiter_1"
	}
	return bus.NewConsumer(a.Bus, bus.TopicAgentResults, "arbiter", consumerName, a.handle, opts...)
}

func (a *Arbiter) handle(ctx context.Context, msg bus.Message) error {
	var event bus.AgentResultEvent
	if err := json.Unmarshal([]byte(msg.Data), &event); err != nil {
		return fmt.Errorf("op=arbiter.Arbiter.handle decode: %w", err)
	}
	result := event.ToAgentResult()

	a.mu.Lock()
	state, ok := a.jobs[result.JobID]
	if !ok {
		state = &jobState{}
		a.jobs[result.JobID] = state
	}
	if state.decided {
		a.mu.Unlock()
		return nil
	}
	state.results = append(state.results, result)

	received := map[string]bool{}
	for _, r := range state.results {
		received[r.AgentName] = true
	}
	allReported := true
	for agent := range expectedAgents {
		if !received[agent] {
			allReported = false
			break
		}
	}

	var decideNow bool
	if allReported {
		decideNow = true
		if state.cancel != nil {
			state.cancel()
		}
	} else if state.cancel == nil {
		timeoutCtx, cancel := context.WithCancel(context.Background())
		state.cancel = cancel
		go a.waitAndDecide(timeoutCtx, result.JobID)
	}
	observability.SetArbiterPendingJobs(a.pendingCountLocked())
	a.mu.Unlock()

	if decideNow {
		return a.decide(ctx, result.JobID, false)
	}
	return nil
}

func (a *Arbiter) pendingCountLocked() int {
	n := 0
	for _, s := range a.jobs {
		if !s.decided {
			n++
		}
	}
	return n
}

func (a *Arbiter) waitAndDecide(ctx context.Context, jobID string) {
	t := time.NewTimer(a.WaitTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
		slog.Warn("arbiter wait timeout reached, deciding with available results", slog.String("job_id", jobID))
		if err := a.decide(context.Background(), jobID, true); err != nil {
			slog.Error("arbiter timeout decision failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
}

func (a *Arbiter) decide(ctx context.Context, jobID string, timedOut bool) error {
	start := time.Now()

	a.mu.Lock()
	state, ok := a.jobs[jobID]
	if !ok || state.decided {
		a.mu.Unlock()
		return nil
	}
	state.decided = true
	results := append([]domain.AgentResult(nil), state.results...)
	a.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].AgentName < results[j].AgentName })

	var score float64
	var verdict domain.Verdict
	var explanation string
	var blocking []string
	if len(results) == 0 {
		// The wait timer only arms after the first result lands, so this is a
		// degenerate path in practice; the bus contract still requires one
		// decision per job, so publish a reject rather than leaving it mute.
		verdict = domain.VerdictReject
		explanation = "no analyzer reported"
		slog.Warn("arbiter deciding with zero results", slog.String("job_id", jobID))
	} else {
		score = weightedScore(results)
		verdict = finalVerdict(results, score)
		explanation = generateExplanation(results, score, verdict)
		blocking = blockingIssues(results)
	}

	summaries := make([]domain.AgentResultSummary, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, domain.AgentResultSummary{
			AgentName: r.AgentName, Verdict: r.Verdict, Confidence: r.Confidence,
		})
	}

	decisionEvent := bus.ReleaseDecisionEvent{
		JobID:        jobID,
		Decision:     verdict,
		Explanation:  explanation,
		AgentResults: summaries,
		Timestamp:    time.Now().UTC(),
	}
	_ = blocking // carried in payload via explanation; kept for logging below
	data, err := json.Marshal(decisionEvent)
	if err != nil {
		return fmt.Errorf("op=arbiter.Arbiter.decide encode job_id=%s: %w", jobID, err)
	}
	if _, err := a.Bus.Publish(ctx, bus.TopicReleaseDecisions, data); err != nil {
		return fmt.Errorf("op=arbiter.Arbiter.decide publish job_id=%s: %w", jobID, err)
	}

	observability.RecordArbiterDecision(string(verdict), time.Since(start), timedOut)

	a.mu.Lock()
	delete(a.jobs, jobID)
	observability.SetArbiterPendingJobs(a.pendingCountLocked())
	a.mu.Unlock()

	slog.Info("arbiter published decision",
		slog.String("job_id", jobID), slog.String("decision", string(verdict)),
		slog.Float64("score", score), slog.Bool("timed_out", timedOut), slog.Any("blocking_issues", blocking))
	return nil
}

func weightedScore(results []domain.AgentResult) float64 {
	var totalScore, totalWeight float64
	for _, r := range results {
		weight := agentWeights[r.AgentName]
		vs, ok := verdictScore[r.Verdict]
		if !ok {
			vs = 0.5
		}
		totalScore += vs * r.Confidence * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0.5
	}
	return totalScore / totalWeight
}

func finalVerdict(results []domain.AgentResult, score float64) domain.Verdict {
	for _, r := range results {
		if criticalAgents[r.AgentName] && r.Verdict == domain.VerdictReject {
			return domain.VerdictReject
		}
	}
	switch {
	case score < 0.4:
		return domain.VerdictReject
	case score < 0.7:
		return domain.VerdictWarn
	default:
		return domain.VerdictApprove
	}
}

func generateExplanation(results []domain.AgentResult, score float64, verdict domain.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Release decision: %s\n", strings.ToUpper(string(verdict)))
	fmt.Fprintf(&b, "Overall confidence score: %.2f\n\n", score)
	b.WriteString("Agent Verdicts:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s (confidence: %.2f)\n", r.AgentName, r.Verdict, r.Confidence)
	}

	var concerns []domain.AgentResult
	for _, r := range results {
		if r.Verdict == domain.VerdictWarn || r.Verdict == domain.VerdictReject {
			concerns = append(concerns, r)
		}
	}
	if len(concerns) > 0 {
		b.WriteString("\nKey Concerns:\n")
		for _, r := range concerns {
			fmt.Fprintf(&b, "- %s: %s\n", r.AgentName, r.Verdict)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func blockingIssues(results []domain.AgentResult) []string {
	var out []string
	for _, r := range results {
		if r.Verdict == domain.VerdictReject {
			out = append(out, fmt.Sprintf("%s: Critical issues detected", r.AgentName))
		}
	}
	return out
}
