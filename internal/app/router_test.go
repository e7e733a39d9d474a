package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/httpserver"
	"github.com/fairyhunter13/ci-release-arbiter/internal/app"
	"github.com/fairyhunter13/ci-release-arbiter/internal/config"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
	"github.com/fairyhunter13/ci-release-arbiter/internal/usecase"
)

type noopJobRepo struct{}

func (noopJobRepo) Create(context.Context, domain.Job) (string, error) { return "job-1", nil }
func (noopJobRepo) UpdateStatus(context.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (noopJobRepo) MarkProcessing(context.Context, string) error          { return nil }
func (noopJobRepo) MarkCompleted(context.Context, string) error           { return nil }
func (noopJobRepo) Get(context.Context, string) (domain.Job, error)       { return domain.Job{}, domain.ErrNotFound }
func (noopJobRepo) List(context.Context, string, int) ([]domain.Job, error) { return nil, nil }

type noopResultRepo struct{}

func (noopResultRepo) Upsert(context.Context, domain.AgentResult) error { return nil }
func (noopResultRepo) ListByJobID(context.Context, string) ([]domain.AgentResult, error) {
	return nil, nil
}

type noopDecisionRepo struct{}

func (noopDecisionRepo) Create(context.Context, domain.ReleaseDecision) error { return nil }
func (noopDecisionRepo) GetByJobID(context.Context, string) (domain.ReleaseDecision, error) {
	return domain.ReleaseDecision{}, domain.ErrNotFound
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, []byte) (string, error) { return "1-0", nil }

func TestBuildRouterServesHealthAndMetrics(t *testing.T) {
	cfg := config.Config{RateLimitPerMin: 100, CORSAllowOrigins: "*"}
	creator := usecase.NewCreateJobService(noopJobRepo{}, noopPublisher{})
	queries := usecase.NewJobQueryService(noopJobRepo{}, noopResultRepo{}, noopDecisionRepo{})
	srv := httpserver.NewServer(cfg, creator, queries, nil, nil)
	router := app.BuildRouter(cfg, srv)

	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestBuildRouterAcceptsUnsignedAnalyzeWhenNoSecretConfigured(t *testing.T) {
	cfg := config.Config{RateLimitPerMin: 100, CORSAllowOrigins: "*"}
	creator := usecase.NewCreateJobService(noopJobRepo{}, noopPublisher{})
	queries := usecase.NewJobQueryService(noopJobRepo{}, noopResultRepo{}, noopDecisionRepo{})
	srv := httpserver.NewServer(cfg, creator, queries, nil, nil)
	router := app.BuildRouter(cfg, srv)

	ts := httptest.NewServer(router)
	defer ts.Close()

	body := `{"repo_name":"svc","commit_hash":"abc123","diff":"+x\n"}`
	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
