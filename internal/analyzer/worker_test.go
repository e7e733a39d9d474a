package analyzer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/analyzer"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

type stubAnalyzer struct {
	name    string
	delay   time.Duration
	verdict domain.Verdict
}

func (s stubAnalyzer) Name() string { return s.name }

func (s stubAnalyzer) Analyze(ctx context.Context, _ domain.CodeAnalysisRequest) (domain.Verdict, float64, map[string]any, error) {
	select {
	case <-time.After(s.delay):
		return s.verdict, 0.8, map[string]any{}, nil
	case <-ctx.Done():
		return "", 0, nil, ctx.Err()
	}
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return bus.NewFromClient(rdb)
}

func publishAnalysisRequest(t *testing.T, b *bus.Bus, jobID string) {
	t.Helper()
	event := bus.CodeAnalysisRequestedEvent{
		JobID: jobID, RepoName: "svc", CommitHash: "abc123", Diff: "+x := 1\n", Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), bus.TopicCodeAnalysisRequested, data)
	require.NoError(t, err)
}

func readAgentResult(t *testing.T, b *bus.Bus) bus.AgentResultEvent {
	t.Helper()
	msgs, err := b.Read(context.Background(), bus.TopicAgentResults, "test_group", "test_1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var event bus.AgentResultEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Data), &event))
	return event
}

func TestWorkerPublishesAgentResultOnSuccess(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := analyzer.NewWorker(b, stubAnalyzer{name: "diff", verdict: domain.VerdictApprove}, time.Second, 0)
	go func() { _ = w.Consumer("").Run(ctx) }()

	publishAnalysisRequest(t, b, "job-1")

	event := readAgentResult(t, b)
	require.Equal(t, "job-1", event.JobID)
	require.Equal(t, "diff", event.AgentName)
	require.Equal(t, domain.VerdictApprove, event.Verdict)
}

func TestWorkerTimesOutSlowAnalyzer(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := analyzer.NewWorker(b, stubAnalyzer{name: "security", delay: time.Second, verdict: domain.VerdictApprove}, 50*time.Millisecond, 0)
	go func() { _ = w.Consumer("").Run(ctx) }()

	publishAnalysisRequest(t, b, "job-2")

	// The analyzer call exceeds the worker's timeout, so no agent_results
	// event is ever published for this job.
	msgs, err := b.Read(context.Background(), bus.TopicAgentResults, "test_group", "test_1", 10, 300*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestByNameRegistersAllFiveAnalyzers(t *testing.T) {
	byName := analyzer.ByName()
	require.Len(t, byName, 5)
	for _, name := range []string{"diff", "intent", "security", "performance", "test"} {
		a, ok := byName[name]
		require.True(t, ok, "missing analyzer %q", name)
		require.Equal(t, name, a.Name())
	}
}
