// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// AgentResultRepo persists per-agent verdicts, upserting on the logical
// (job_id, agent_name) key so duplicate bus deliveries never produce
// duplicate rows (§4.2, I8 idempotency property).
type AgentResultRepo struct{ Pool PgxPool }

// NewAgentResultRepo constructs an AgentResultRepo with the given pool.
func NewAgentResultRepo(p PgxPool) *AgentResultRepo { return &AgentResultRepo{Pool: p} }

// Upsert inserts an agent result or overwrites the prior row for the same
// (job_id, agent_name), last-writer-wins.
func (r *AgentResultRepo) Upsert(ctx domain.Context, res domain.AgentResult) error {
	tracer := otel.Tracer("repo.agent_results")
	ctx, span := tracer.Start(ctx, "agent_results.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "agent_results"),
	)
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return fmt.Errorf("op=agent_result.upsert.marshal_payload: %w", err)
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO agent_results (job_id, agent_name, verdict, confidence, payload, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6)
	      ON CONFLICT (job_id, agent_name)
	      DO UPDATE SET verdict=EXCLUDED.verdict, confidence=EXCLUDED.confidence, payload=EXCLUDED.payload, created_at=EXCLUDED.created_at`
	_, err = r.Pool.Exec(ctx, q, res.JobID, res.AgentName, res.Verdict, res.Confidence, payload, createdAt)
	if err != nil {
		return fmt.Errorf("op=agent_result.upsert: %w", err)
	}
	return nil
}

// ListByJobID returns every agent result recorded for a job, used to build
// the Gateway's job-status response and the arbiter's audit trail.
func (r *AgentResultRepo) ListByJobID(ctx domain.Context, jobID string) ([]domain.AgentResult, error) {
	tracer := otel.Tracer("repo.agent_results")
	ctx, span := tracer.Start(ctx, "agent_results.ListByJobID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "agent_results"),
	)
	q := `SELECT job_id, agent_name, verdict, confidence, payload, created_at FROM agent_results WHERE job_id=$1 ORDER BY agent_name`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=agent_result.list: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentResult
	for rows.Next() {
		var res domain.AgentResult
		var payload []byte
		if err := rows.Scan(&res.JobID, &res.AgentName, &res.Verdict, &res.Confidence, &payload, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=agent_result.list_scan: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &res.Payload); err != nil {
				return nil, fmt.Errorf("op=agent_result.list_unmarshal_payload: %w", err)
			}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=agent_result.list_rows: %w", err)
	}
	return out, nil
}
