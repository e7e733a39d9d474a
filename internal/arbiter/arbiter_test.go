package arbiter_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/arbiter"
	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return bus.NewFromClient(rdb)
}

func publishResult(t *testing.T, b *bus.Bus, jobID, agent string, verdict domain.Verdict, confidence float64) {
	t.Helper()
	event := bus.AgentResultEvent{
		JobID: jobID, AgentName: agent, Verdict: verdict, Confidence: confidence,
		Payload: map[string]any{}, Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), bus.TopicAgentResults, data)
	require.NoError(t, err)
}

func readDecision(t *testing.T, b *bus.Bus) bus.ReleaseDecisionEvent {
	t.Helper()
	msgs, err := b.Read(context.Background(), bus.TopicReleaseDecisions, "test_group", "test_1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var event bus.ReleaseDecisionEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Data), &event))
	return event
}

func TestArbiterDecidesOnceAllAgentsReport(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, time.Hour)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	publishResult(t, b, "job-1", "diff", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-1", "intent", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-1", "security", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-1", "performance", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-1", "test", domain.VerdictApprove, 0.9)

	time.Sleep(200 * time.Millisecond)
	event := readDecision(t, b)
	require.Equal(t, "job-1", event.JobID)
	require.Equal(t, domain.VerdictApprove, event.Decision)
	require.Len(t, event.AgentResults, 5)
}

func TestArbiterRejectsOnCriticalAgentReject(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, time.Hour)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	publishResult(t, b, "job-2", "diff", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-2", "intent", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-2", "security", domain.VerdictReject, 0.95)
	publishResult(t, b, "job-2", "performance", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-2", "test", domain.VerdictApprove, 0.9)

	time.Sleep(200 * time.Millisecond)
	event := readDecision(t, b)
	require.Equal(t, domain.VerdictReject, event.Decision)
}

func TestArbiterDecidesOnWaitTimeoutWithPartialResults(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, 100*time.Millisecond)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	// Only 3 of the 5 expected agents ever report; the wait timeout must
	// still produce a decision from the subset collected so far.
	publishResult(t, b, "job-3", "security", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-3", "intent", domain.VerdictApprove, 0.9)
	publishResult(t, b, "job-3", "diff", domain.VerdictApprove, 0.9)

	event := readDecision(t, b)
	require.Equal(t, "job-3", event.JobID)
	require.Len(t, event.AgentResults, 3)
	require.Equal(t, domain.VerdictApprove, event.Decision)
}

func TestArbiterWeightedScoreJustBelow40PercentRejects(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, time.Hour)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	// All five agents approve with uniform confidence c; since the agent
	// weights sum to 1.0, the weighted score equals c exactly.
	const c = 0.39
	for _, agent := range []string{"diff", "intent", "security", "performance", "test"} {
		publishResult(t, b, "job-4", agent, domain.VerdictApprove, c)
	}

	time.Sleep(200 * time.Millisecond)
	event := readDecision(t, b)
	require.Equal(t, domain.VerdictReject, event.Decision)
}

func TestArbiterWeightedScoreJustAbove40PercentWarns(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, time.Hour)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	const c = 0.41
	for _, agent := range []string{"diff", "intent", "security", "performance", "test"} {
		publishResult(t, b, "job-5", agent, domain.VerdictApprove, c)
	}

	time.Sleep(200 * time.Millisecond)
	event := readDecision(t, b)
	require.Equal(t, domain.VerdictWarn, event.Decision)
}

func TestArbiterWeightedScoreJustBelow70PercentWarns(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, time.Hour)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	const c = 0.69
	for _, agent := range []string{"diff", "intent", "security", "performance", "test"} {
		publishResult(t, b, "job-6", agent, domain.VerdictApprove, c)
	}

	time.Sleep(200 * time.Millisecond)
	event := readDecision(t, b)
	require.Equal(t, domain.VerdictWarn, event.Decision)
}

func TestArbiterWeightedScoreJustAbove70PercentApproves(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := arbiter.New(b, time.Hour)
	consumer := a.Consumer("")
	go func() { _ = consumer.Run(ctx) }()

	const c = 0.71
	for _, agent := range []string{"diff", "intent", "security", "performance", "test"} {
		publishResult(t, b, "job-7", agent, domain.VerdictApprove, c)
	}

	time.Sleep(200 * time.Millisecond)
	event := readDecision(t, b)
	require.Equal(t, domain.VerdictApprove, event.Decision)
}
