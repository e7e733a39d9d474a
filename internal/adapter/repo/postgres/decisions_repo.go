// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// ReleaseDecisionRepo persists the one decision per job, enforcing the
// job_id uniqueness constraint that defends against the arbiter's timer
// race and any cross-replica race (§9 design note).
type ReleaseDecisionRepo struct{ Pool PgxPool }

// NewReleaseDecisionRepo constructs a ReleaseDecisionRepo with the given pool.
func NewReleaseDecisionRepo(p PgxPool) *ReleaseDecisionRepo { return &ReleaseDecisionRepo{Pool: p} }

// Create inserts a decision. A duplicate job_id violates the unique
// constraint; the orchestrator maps that into domain.ErrConflict and drops
// the event silently, per the error-handling taxonomy's "duplicate
// decision" entry.
func (r *ReleaseDecisionRepo) Create(ctx domain.Context, d domain.ReleaseDecision) error {
	tracer := otel.Tracer("repo.release_decisions")
	ctx, span := tracer.Start(ctx, "release_decisions.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "release_decisions"),
	)
	summary, err := json.Marshal(d.AgentResultsSummary)
	if err != nil {
		return fmt.Errorf("op=release_decision.create.marshal_summary: %w", err)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO release_decisions (job_id, decision, explanation, agent_results_summary, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err = r.Pool.Exec(ctx, q, d.JobID, d.Decision, d.Explanation, summary, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("op=release_decision.create job_id=%s: %w", d.JobID, domain.ErrConflict)
		}
		return fmt.Errorf("op=release_decision.create: %w", err)
	}
	return nil
}

// GetByJobID loads the decision for a job, if any.
func (r *ReleaseDecisionRepo) GetByJobID(ctx domain.Context, jobID string) (domain.ReleaseDecision, error) {
	tracer := otel.Tracer("repo.release_decisions")
	ctx, span := tracer.Start(ctx, "release_decisions.GetByJobID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "release_decisions"),
	)
	q := `SELECT job_id, decision, explanation, agent_results_summary, created_at FROM release_decisions WHERE job_id=$1`
	row := r.Pool.QueryRow(ctx, q, jobID)
	var d domain.ReleaseDecision
	var summary []byte
	if err := row.Scan(&d.JobID, &d.Decision, &d.Explanation, &summary, &d.CreatedAt); err != nil {
		return domain.ReleaseDecision{}, fmt.Errorf("op=release_decision.get job_id=%s: %w", jobID, domain.ErrNotFound)
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &d.AgentResultsSummary); err != nil {
			return domain.ReleaseDecision{}, fmt.Errorf("op=release_decision.get_unmarshal_summary: %w", err)
		}
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
