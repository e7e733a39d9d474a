// Package httpserver contains HTTP handlers and middleware.
//
// It provides the REST API surface for submitting code-review jobs and
// retrieving their status/decision. The package follows clean architecture
// principles and keeps a clear separation between HTTP concerns and business
// logic.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ci-release-arbiter/internal/config"
	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
	"github.com/fairyhunter13/ci-release-arbiter/internal/usecase"
)

const defaultListLimit = 50

// Server aggregates the gateway's handler dependencies.
type Server struct {
	Cfg      config.Config
	Creator  *usecase.CreateJobService
	Queries  *usecase.JobQueryService
	DBCheck  func(ctx context.Context) error
	BusCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, creator *usecase.CreateJobService, queries *usecase.JobQueryService, dbCheck, busCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Creator: creator, Queries: queries, DBCheck: dbCheck, BusCheck: busCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type analyzeRequest struct {
	RepoName      string `json:"repo_name" validate:"required"`
	CommitHash    string `json:"commit_hash" validate:"required"`
	CommitMessage string `json:"commit_message" validate:"omitempty,max=5000"`
	Diff          string `json:"diff" validate:"required"`
	Branch        string `json:"branch" validate:"omitempty,max=200"`
	Author        string `json:"author" validate:"omitempty,max=200"`
}

// AnalyzeHandler handles POST /api/v1/analyze: it creates a job record and
// publishes a code_analysis_requested event for the analyzer fleet to pick up.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		job, publishErr, err := s.Creator.CreateJob(r.Context(), usecase.CreateJobRequest{
			RepoName:      req.RepoName,
			CommitHash:    req.CommitHash,
			CommitMessage: req.CommitMessage,
			Diff:          req.Diff,
			Branch:        req.Branch,
			Author:        req.Author,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if publishErr != nil {
			LoggerFrom(r).Error("job persisted but event publish failed",
				"job_id", job.ID, "error", publishErr.Error())
			writeError(w, r, fmt.Errorf("%w: job accepted but analysis dispatch failed", domain.ErrInternal), map[string]string{"job_id": job.ID})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":     job.ID,
			"status":     string(job.Status),
			"created_at": job.CreatedAt.Format(time.RFC3339),
		})
	}
}

// GetJobHandler handles GET /api/v1/jobs/{job_id}.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := SanitizeJobID(chi.URLParam(r, "job_id"))
		if res := ValidateJobID(jobID); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid job id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		detail, err := s.Queries.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, jobDetailResponse(detail))
	}
}

// ListJobsHandler handles GET /api/v1/jobs?repo_name=&limit=.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoName := SanitizeString(r.URL.Query().Get("repo_name"))
		limitRaw := r.URL.Query().Get("limit")
		if res := ValidatePagination("", limitRaw); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid pagination", domain.ErrInvalidArgument), res.Errors)
			return
		}
		limit := defaultListLimit
		if limitRaw != "" {
			n, err := strconv.Atoi(limitRaw)
			if err != nil || n < 1 || n > 500 {
				writeError(w, r, fmt.Errorf("%w: limit must be between 1 and 500", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}

		status := r.URL.Query().Get("status")
		if res := ValidateStatus(status); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid status filter", domain.ErrInvalidArgument), res.Errors)
			return
		}

		query := SanitizeString(r.URL.Query().Get("q"))
		if res := ValidateSearchQuery(query); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid search query", domain.ErrInvalidArgument), res.Errors)
			return
		}

		jobs, err := s.Queries.ListJobs(r.Context(), repoName, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		// The store's List has no status/commit-message filter; the gateway
		// narrows the already-limited page in-handler rather than widening
		// the repository contract for two optional query params.
		filtered := jobs[:0]
		for _, j := range jobs {
			if status != "" && string(j.Status) != status {
				continue
			}
			if query != "" && !strings.Contains(strings.ToLower(j.CommitMessage), strings.ToLower(query)) {
				continue
			}
			filtered = append(filtered, j)
		}

		out := make([]map[string]any, len(filtered))
		for i, j := range filtered {
			out[i] = jobSummary(j)
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
	}
}

// HealthHandler reports liveness; it does not probe dependencies.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.Cfg.OTELServiceName})
	}
}

// ReadyzHandler probes the store and the message bus.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.BusCheck != nil {
			if err := s.BusCheck(ctx); err != nil {
				checks = append(checks, check{Name: "bus", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "bus", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

func jobSummary(j domain.Job) map[string]any {
	m := map[string]any{
		"job_id":      j.ID,
		"repo_name":   j.RepoName,
		"commit_hash": j.CommitHash,
		"branch":      j.Branch,
		"status":      string(j.Status),
		"created_at":  j.CreatedAt.Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339)
	}
	return m
}

func jobDetailResponse(d usecase.JobDetail) map[string]any {
	m := jobSummary(d.Job)
	results := make([]map[string]any, len(d.AgentResults))
	for i, ar := range d.AgentResults {
		results[i] = map[string]any{
			"agent_name": ar.AgentName,
			"verdict":    string(ar.Verdict),
			"confidence": ar.Confidence,
		}
	}
	m["agent_results"] = results
	if d.Decision != nil {
		m["decision"] = string(d.Decision.Decision)
		m["explanation"] = d.Decision.Explanation
	}
	return m
}
