package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
	"github.com/fairyhunter13/ci-release-arbiter/internal/orchestrator"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[string]domain.Job{}} }

func (f *fakeJobRepo) Create(_ context.Context, j domain.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return j.ID, nil
}
func (f *fakeJobRepo) UpdateStatus(_ context.Context, id string, status domain.JobStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = status
	f.jobs[id] = j
	return nil
}
func (f *fakeJobRepo) MarkProcessing(ctx context.Context, id string) error {
	return f.UpdateStatus(ctx, id, domain.JobProcessing, nil)
}
func (f *fakeJobRepo) MarkCompleted(ctx context.Context, id string) error {
	return f.UpdateStatus(ctx, id, domain.JobCompleted, nil)
}
func (f *fakeJobRepo) Get(_ context.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}
func (f *fakeJobRepo) List(context.Context, string, int) ([]domain.Job, error) { return nil, nil }

type fakeResultRepo struct {
	mu      sync.Mutex
	results []domain.AgentResult
}

func (f *fakeResultRepo) Upsert(_ context.Context, r domain.AgentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}
func (f *fakeResultRepo) ListByJobID(_ context.Context, jobID string) ([]domain.AgentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AgentResult
	for _, r := range f.results {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeDecisionRepo struct {
	mu        sync.Mutex
	decisions map[string]domain.ReleaseDecision
}

func newFakeDecisionRepo() *fakeDecisionRepo {
	return &fakeDecisionRepo{decisions: map[string]domain.ReleaseDecision{}}
}
func (f *fakeDecisionRepo) Create(_ context.Context, d domain.ReleaseDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.decisions[d.JobID]; ok {
		return domain.ErrConflict
	}
	f.decisions[d.JobID] = d
	return nil
}
func (f *fakeDecisionRepo) GetByJobID(_ context.Context, jobID string) (domain.ReleaseDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.decisions[jobID]
	if !ok {
		return domain.ReleaseDecision{}, domain.ErrNotFound
	}
	return d, nil
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return bus.NewFromClient(rdb)
}

func TestOrchestratorMirrorsAgentResultAndMarksProcessing(t *testing.T) {
	b := newTestBus(t)
	jobs := newFakeJobRepo()
	results := &fakeResultRepo{}
	decisions := newFakeDecisionRepo()
	_, _ = jobs.Create(context.Background(), domain.Job{ID: "job-1", RepoName: "svc", Status: domain.JobPending})

	orch := orchestrator.New(jobs, results, decisions, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = orch.AgentResultsConsumer().Run(ctx) }()

	event := bus.AgentResultEvent{JobID: "job-1", AgentName: "diff", Verdict: domain.VerdictApprove, Confidence: 0.9, Payload: map[string]any{}, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = b.Publish(ctx, bus.TopicAgentResults, data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := jobs.Get(ctx, "job-1")
		return err == nil && j.Status == domain.JobProcessing
	}, time.Second, 10*time.Millisecond)

	stored, err := results.ListByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestOrchestratorSkipsDuplicateReleaseDecision(t *testing.T) {
	b := newTestBus(t)
	jobs := newFakeJobRepo()
	results := &fakeResultRepo{}
	decisions := newFakeDecisionRepo()
	_, _ = jobs.Create(context.Background(), domain.Job{ID: "job-2", RepoName: "svc", Status: domain.JobProcessing})

	orch := orchestrator.New(jobs, results, decisions, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = orch.ReleaseDecisionsConsumer().Run(ctx) }()

	event := bus.ReleaseDecisionEvent{JobID: "job-2", Decision: domain.VerdictApprove, Explanation: "ok", Timestamp: time.Now().UTC()}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	_, err = b.Publish(ctx, bus.TopicReleaseDecisions, data)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := jobs.Get(ctx, "job-2")
		return err == nil && j.Status == domain.JobCompleted
	}, time.Second, 10*time.Millisecond)

	// Redeliver the same decision; it must not error the consumer loop or
	// panic on a second insert.
	_, err = b.Publish(ctx, bus.TopicReleaseDecisions, data)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
}
