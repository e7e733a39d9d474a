// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ci-release-arbiter/internal/domain"
)

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job in the pending status and returns its id. This is
// the Gateway's sole mutator; everything downstream is owned by the
// Orchestrator.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := j.Status
	if status == "" {
		status = domain.JobPending
	}
	q := `INSERT INTO jobs (id, repo_name, commit_hash, commit_message, branch, author, status, error, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q, id, j.RepoName, j.CommitHash, j.CommitMessage, j.Branch, j.Author, status, j.Error, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// UpdateStatus updates a job's status and optional error message within an
// explicit transaction. Called only by the Orchestrator, which owns every
// post-creation Job mutation (I2).
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		slog.Error("failed to begin transaction for job status update",
			slog.String("job_id", id), slog.String("status", string(status)), slog.Any("error", err))
		return fmt.Errorf("op=job.update_status.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback transaction", slog.String("job_id", id), slog.Any("error", err))
			}
		}
	}()

	var q string
	var rowsAffected int64
	if status == domain.JobCompleted {
		q = `UPDATE jobs SET status=$2, error=$3, completed_at=$4 WHERE id=$1`
		tag, err := tx.Exec(ctx, q, id, status, errVal, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("op=job.update_status.exec: %w", err)
		}
		rowsAffected = tag.RowsAffected()
	} else {
		q = `UPDATE jobs SET status=$2, error=$3 WHERE id=$1`
		tag, err := tx.Exec(ctx, q, id, status, errVal)
		if err != nil {
			return fmt.Errorf("op=job.update_status.exec: %w", err)
		}
		rowsAffected = tag.RowsAffected()
	}

	if rowsAffected == 0 {
		slog.Warn("job status update affected 0 rows - job may not exist",
			slog.String("job_id", id), slog.String("status", string(status)))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.update_status.commit: %w", err)
	}
	committed = true
	return nil
}

// MarkProcessing transitions a job from pending to processing. No-op if the
// job is already processing or completed, matching the Orchestrator's rule
// for the first agent_results event it sees for a job.
func (r *JobRepo) MarkProcessing(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkProcessing")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET status=$2 WHERE id=$1 AND status=$3`
	_, err := r.Pool.Exec(ctx, q, id, domain.JobProcessing, domain.JobPending)
	if err != nil {
		return fmt.Errorf("op=job.mark_processing: %w", err)
	}
	return nil
}

// MarkCompleted transitions a job to completed and stamps completed_at.
func (r *JobRepo) MarkCompleted(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkCompleted")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET status=$2, completed_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.JobCompleted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.mark_completed: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, repo_name, commit_hash, commit_message, branch, author, status, COALESCE(error,''), created_at, completed_at
	      FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var j domain.Job
	if err := row.Scan(&j.ID, &j.RepoName, &j.CommitHash, &j.CommitMessage, &j.Branch, &j.Author, &j.Status, &j.Error, &j.CreatedAt, &j.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// List returns the newest-first jobs, optionally filtered by repo name, for
// the Gateway's list-jobs surface.
func (r *JobRepo) List(ctx domain.Context, repoName string, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if repoName != "" {
		q := `SELECT id, repo_name, commit_hash, commit_message, branch, author, status, COALESCE(error,''), created_at, completed_at
		      FROM jobs WHERE repo_name=$1 ORDER BY created_at DESC LIMIT $2`
		rows, err = r.Pool.Query(ctx, q, repoName, limit)
	} else {
		q := `SELECT id, repo_name, commit_hash, commit_message, branch, author, status, COALESCE(error,''), created_at, completed_at
		      FROM jobs ORDER BY created_at DESC LIMIT $1`
		rows, err = r.Pool.Query(ctx, q, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.RepoName, &j.CommitHash, &j.CommitMessage, &j.Branch, &j.Author, &j.Status, &j.Error, &j.CreatedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("op=job.list_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_rows: %w", err)
	}
	return jobs, nil
}
