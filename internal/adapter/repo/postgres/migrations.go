// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

// migrations is applied sequentially and is itself idempotent (CREATE TABLE
// IF NOT EXISTS / CREATE INDEX IF NOT EXISTS), so every component can call
// Migrate on startup without a separate migration-runner process.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id              TEXT PRIMARY KEY,
		repo_name       TEXT NOT NULL,
		commit_hash     TEXT NOT NULL,
		commit_message  TEXT NOT NULL DEFAULT '',
		branch          TEXT NOT NULL DEFAULT '',
		author          TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_repo_name_created_at ON jobs (repo_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS agent_results (
		job_id      TEXT NOT NULL REFERENCES jobs(id),
		agent_name  TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (job_id, agent_name)
	)`,

	`CREATE TABLE IF NOT EXISTS release_decisions (
		job_id                  TEXT PRIMARY KEY REFERENCES jobs(id),
		decision                TEXT NOT NULL,
		explanation             TEXT NOT NULL,
		agent_results_summary   JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at              TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies every pending migration in order against pool. Safe to
// call concurrently from multiple process instances on startup since each
// statement is itself idempotent.
func Migrate(ctx context.Context, pool PgxPool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.Migrate step=%d: %w", i, err)
		}
	}
	slog.Info("store migrations applied", slog.Int("count", len(migrations)))
	return nil
}
