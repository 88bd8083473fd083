package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// migrations are applied in order at startup. Statements must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id           UUID PRIMARY KEY,
		filename     TEXT NOT NULL,
		locator      TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL,
		mime_type    TEXT NOT NULL,
		page_count   INT NOT NULL DEFAULT 0,
		language     TEXT NOT NULL DEFAULT '',
		uploaded_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_locator ON documents (locator)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id         UUID PRIMARY KEY,
		fail_fast  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           UUID PRIMARY KEY,
		document_id  UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		batch_id     UUID REFERENCES batches(id) ON DELETE SET NULL,
		status       TEXT NOT NULL,
		progress     INT NOT NULL DEFAULT 0,
		stages       TEXT[] NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_batch ON jobs (batch_id) WHERE batch_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS stage_records (
		id           UUID PRIMARY KEY,
		job_id       UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		class        TEXT NOT NULL,
		status       TEXT NOT NULL,
		attempts     INT NOT NULL DEFAULT 0,
		depends_on   TEXT[] NOT NULL DEFAULT '{}',
		output_ref   TEXT NOT NULL DEFAULT '',
		error_detail TEXT NOT NULL DEFAULT '',
		next_run_at  TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		finished_at  TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (job_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_records_claim
		ON stage_records (class, next_run_at, created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id         UUID PRIMARY KEY,
		url        TEXT NOT NULL,
		events     TEXT[] NOT NULL,
		secret     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		seq          BIGSERIAL PRIMARY KEY,
		id           TEXT NOT NULL UNIQUE,
		job_id       UUID NOT NULL,
		event        TEXT NOT NULL,
		payload      JSONB NOT NULL DEFAULT '{}',
		attempts     INT NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		next_run_at  TIMESTAMPTZ NOT NULL,
		delivered_at TIMESTAMPTZ,
		dropped      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_pending
		ON webhook_events (next_run_at, seq) WHERE delivered_at IS NULL AND NOT dropped`,
}

// EnsureSchema applies the schema migrations.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
