package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// Worker drives one domain.Analyzer against the code_analysis_requested
// topic: it decodes each event, bounds the analyzer call with a timeout
// (mirroring run_with_timeout's per-call deadline), and publishes the
// resulting verdict to agent_results. Every analyzer runs under its own
// consumer group named "<agent_name>_group" so the five agents see every
// request independently, matching the fan-out the arbiter expects.
type Worker struct {
	Bus      *bus.Bus
	Analyzer domain.Analyzer
	Timeout  time.Duration

	// MaxRetries is the redelivery budget (tracked via bus.Message's
	// delivery count, populated on reclaim) before handle gives up retrying
	// the analyze call and force-publishes a skip verdict instead, per
	// §4.4 step 4. Zero disables the fallback: failures retry forever.
	MaxRetries int64
}

// NewWorker constructs a Worker for analyzer, reading from bus and bounding
// each Analyze call to timeout. maxRetries is the redelivery budget before
// handle force-publishes a skip verdict instead of retrying indefinitely.
func NewWorker(b *bus.Bus, analyzer domain.Analyzer, timeout time.Duration, maxRetries int64) *Worker {
	return &Worker{Bus: b, Analyzer: analyzer, Timeout: timeout, MaxRetries: maxRetries}
}

// Consumer builds the bus.Consumer this worker runs under. consumerName lets
// a deployment run more than one replica of the same agent ("<name>_1",
// "<name>_2", ...) while sharing the one consumer group. opts customize the
// underlying bus.Consumer's polling cadence (block timeout, claim idle,
// error backoff, concurrency).
func (w *Worker) Consumer(consumerName string, opts ...bus.ConsumerOption) *bus.Consumer {
	name := w.Analyzer.Name()
	group := name + "_group"
	if consumerName == "" {
		consumerName = name + "_1"
	}
	return bus.NewConsumer(w.Bus, bus.TopicCodeAnalysisRequested, group, consumerName, w.handle, opts...)
}

func (w *Worker) handle(ctx context.Context, msg bus.Message) error {
	var event bus.CodeAnalysisRequestedEvent
	if err := json.Unmarshal([]byte(msg.Data), &event); err != nil {
		return fmt.Errorf("op=analyzer.Worker.handle decode: %w", err)
	}
	req := event.ToRequest()

	actx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	start := time.Now()
	verdict, confidence, payload, err := w.Analyzer.Analyze(actx, req)
	duration := time.Since(start)

	if err != nil {
		errClass := "analysis_error"
		if actx.Err() != nil {
			errClass = "timeout"
		}
		observability.RecordAgentAnalysisError(w.Analyzer.Name(), errClass)

		if w.MaxRetries > 0 && msg.DeliveryCount >= w.MaxRetries {
			slog.Warn("analyzer exhausted retry budget, force-publishing skip verdict",
				slog.String("agent", w.Analyzer.Name()), slog.String("job_id", req.JobID),
				slog.Int64("delivery_count", msg.DeliveryCount), slog.Any("error", err))
			skipPayload := map[string]any{"reason": errClass, "error": err.Error()}
			return w.publish(ctx, req.JobID, domain.VerdictSkip, 0.5, skipPayload, time.Since(start))
		}
		return fmt.Errorf("op=analyzer.Worker.handle analyze job_id=%s agent=%s: %w", req.JobID, w.Analyzer.Name(), err)
	}

	return w.publish(ctx, req.JobID, verdict, confidence, payload, duration)
}

func (w *Worker) publish(ctx context.Context, jobID string, verdict domain.Verdict, confidence float64, payload map[string]any, duration time.Duration) error {
	observability.RecordAgentAnalysis(w.Analyzer.Name(), string(verdict), duration)

	result := bus.AgentResultEvent{
		JobID:      jobID,
		AgentName:  w.Analyzer.Name(),
		Verdict:    verdict,
		Confidence: confidence,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("op=analyzer.Worker.handle encode job_id=%s: %w", jobID, err)
	}
	if _, err := w.Bus.Publish(ctx, bus.TopicAgentResults, data); err != nil {
		return fmt.Errorf("op=analyzer.Worker.handle publish job_id=%s: %w", jobID, err)
	}

	slog.Info("analyzer completed job",
		slog.String("agent", w.Analyzer.Name()), slog.String("job_id", jobID),
		slog.String("verdict", string(verdict)), slog.Float64("confidence", confidence),
		slog.Duration("duration", duration))
	return nil
}

// ByName maps every built-in analyzer by its stable Name(), used by
// cmd/agent to select which one a process runs via AGENT_NAME.
func ByName() map[string]domain.Analyzer {
	analyzers := []domain.Analyzer{
		DiffAnalyzer{},
		IntentAnalyzer{},
		SecurityAnalyzer{},
		PerformanceAnalyzer{},
		TestAnalyzer{},
	}
	out := make(map[string]domain.Analyzer, len(analyzers))
	for _, a := range analyzers {
		out[a.Name()] = a
	}
	return out
}
