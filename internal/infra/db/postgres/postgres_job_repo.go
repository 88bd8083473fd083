package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, document_id, COALESCE(batch_id::text, ''), status, progress, stages, reason, created_at, started_at, completed_at, updated_at`

const stageColumns = `id, job_id, name, class, status, attempts, depends_on, output_ref, error_detail, next_run_at, started_at, finished_at, created_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	err := row.Scan(&j.ID, &j.DocumentID, &j.BatchID, &status, &j.Progress, &j.Stages,
		&j.Reason, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanStage(row pgx.Row) (*model.StageRecord, error) {
	var sr model.StageRecord
	var status string
	err := row.Scan(&sr.ID, &sr.JobID, &sr.Name, &sr.Class, &status, &sr.Attempts,
		&sr.DependsOn, &sr.OutputRef, &sr.ErrorDetail, &sr.NextRunAt,
		&sr.StartedAt, &sr.FinishedAt, &sr.CreatedAt, &sr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	sr.Status = model.StageStatus(status)
	return &sr, nil
}

func (r *jobRepo) CreateJob(ctx context.Context, tx repository.Tx, doc *model.Document, job *model.Job, stages []*model.StageRecord) error {
	// Duplicate-submission guard: an identical in-flight document (same
	// content locator) blocks a second job.
	if dup, err := r.FindInFlightByLocator(ctx, tx, doc.Locator); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	} else if dup != nil {
		return domain.ErrDuplicateSubmission
	}

	now := time.Now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.DocumentID = doc.ID
	job.CreatedAt = now
	job.UpdatedAt = now

	const qDoc = `
INSERT INTO documents (id, filename, locator, size_bytes, mime_type, page_count, language, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := execSQL(ctx, r.pool, tx, qDoc,
		doc.ID, doc.Filename, doc.Locator, doc.SizeBytes, doc.MimeType, doc.PageCount, doc.Language, now); err != nil {
		return err
	}

	const qJob = `
INSERT INTO jobs (id, document_id, batch_id, status, progress, stages, reason, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9)`
	if _, err := execSQL(ctx, r.pool, tx, qJob,
		job.ID, job.DocumentID, job.BatchID, string(job.Status), job.Progress, job.Stages, job.Reason, now, now); err != nil {
		return err
	}

	const qStage = `
INSERT INTO stage_records (id, job_id, name, class, status, attempts, depends_on, next_run_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, sr := range stages {
		if sr.ID == "" {
			sr.ID = uuid.NewString()
		}
		sr.JobID = job.ID
		if sr.NextRunAt.IsZero() {
			sr.NextRunAt = now
		}
		if _, err := execSQL(ctx, r.pool, tx, qStage,
			sr.ID, sr.JobID, sr.Name, sr.Class, string(sr.Status), sr.Attempts, sr.DependsOn, sr.NextRunAt, now, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *jobRepo) FindJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindDocument(ctx context.Context, tx repository.Tx, documentID string) (*model.Document, error) {
	row, err := pickRow(ctx, r.pool, tx, `
SELECT id, filename, locator, size_bytes, mime_type, page_count, language, uploaded_at
FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return nil, err
	}
	var d model.Document
	if err := row.Scan(&d.ID, &d.Filename, &d.Locator, &d.SizeBytes, &d.MimeType, &d.PageCount, &d.Language, &d.UploadedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &d, nil
}

func (r *jobRepo) ListStages(ctx context.Context, tx repository.Tx, jobID string) ([]*model.StageRecord, error) {
	rows, err := pickRows(ctx, r.pool, tx, `SELECT `+stageColumns+` FROM stage_records WHERE job_id = $1 ORDER BY created_at, name`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StageRecord
	for rows.Next() {
		sr, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *jobRepo) FindInFlightByLocator(ctx context.Context, tx repository.Tx, locator string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `
SELECT j.id, j.document_id, COALESCE(j.batch_id::text, ''), j.status, j.progress, j.stages, j.reason, j.created_at, j.started_at, j.completed_at, j.updated_at
FROM jobs j
JOIN documents d ON d.id = j.document_id
WHERE d.locator = $1 AND j.status IN ('pending', 'processing')
LIMIT 1`, locator)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// UpdateStage applies a compare-and-swap transition. Exactly one of N racing
// writers succeeds; the rest see zero rows updated and get ErrInvalidTransition.
func (r *jobRepo) UpdateStage(ctx context.Context, tx repository.Tx, jobID, stage string, tr repository.StageTransition) error {
	if !tr.From.CanTransitionTo(tr.To) {
		return domain.ErrInvalidTransition
	}

	var nextRunAt interface{}
	if !tr.NextRunAt.IsZero() {
		nextRunAt = tr.NextRunAt
	}

	const q = `
UPDATE stage_records SET
  status       = $4,
  output_ref   = CASE WHEN $4 = 'succeeded' THEN $5 ELSE output_ref END,
  error_detail = CASE WHEN $6 <> '' THEN $6 ELSE error_detail END,
  next_run_at  = COALESCE($7, next_run_at),
  finished_at  = CASE WHEN $4 IN ('succeeded', 'failed', 'skipped') THEN now() ELSE finished_at END,
  updated_at   = now()
WHERE job_id = $1 AND name = $2 AND status = $3`
	tag, err := execSQL(ctx, r.pool, tx, q,
		jobID, stage, string(tr.From), string(tr.To), tr.OutputRef, tr.ErrorDetail, nextRunAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing record.
		row, perr := pickRow(ctx, r.pool, tx, `SELECT 1 FROM stage_records WHERE job_id = $1 AND name = $2`, jobID, stage)
		if perr != nil {
			return perr
		}
		var one int
		if serr := row.Scan(&one); serr != nil {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *jobRepo) SkipDependents(ctx context.Context, tx repository.Tx, jobID, failedStage string) ([]string, error) {
	stages, err := r.ListStages(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	// Transitive closure over declared dependencies.
	doomed := map[string]bool{failedStage: true}
	for changed := true; changed; {
		changed = false
		for _, sr := range stages {
			if doomed[sr.Name] {
				continue
			}
			for _, dep := range sr.DependsOn {
				if doomed[dep] {
					doomed[sr.Name] = true
					changed = true
					break
				}
			}
		}
	}

	var skipped []string
	for _, sr := range stages {
		if sr.Name == failedStage || !doomed[sr.Name] || sr.Status.Terminal() {
			continue
		}
		skipped = append(skipped, sr.Name)
	}
	if len(skipped) == 0 {
		return nil, nil
	}

	const q = `
UPDATE stage_records SET status = 'skipped', finished_at = now(), updated_at = now()
WHERE job_id = $1 AND name = ANY($2) AND status IN ('pending', 'running')`
	if _, err := execSQL(ctx, r.pool, tx, q, jobID, skipped); err != nil {
		return nil, err
	}
	return skipped, nil
}

// RecomputeProgress re-derives progress and status from the stage records,
// inside the caller's transaction. The job row is locked so concurrent
// recomputations serialize; progress is clamped to never decrease and
// terminal jobs are left untouched.
func (r *jobRepo) RecomputeProgress(ctx context.Context, tx repository.Tx, jobID string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	stages, err := r.ListStages(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	status, progress := model.DeriveJobState(stages)
	if progress < job.Progress {
		progress = job.Progress
	}

	reason := job.Reason
	if status == model.JobStatusFailed && reason == "" {
		for _, sr := range stages {
			if sr.Status == model.StageFailed {
				reason = sr.Name + ": " + sr.ErrorDetail
				break
			}
		}
	}

	const q = `
UPDATE jobs SET
  status       = $2,
  progress     = $3,
  reason       = $4,
  started_at   = CASE WHEN started_at IS NULL AND $2 <> 'pending' THEN now() ELSE started_at END,
  completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END,
  updated_at   = now()
WHERE id = $1`
	if _, err := execSQL(ctx, r.pool, tx, q, jobID, string(status), progress, reason); err != nil {
		return nil, err
	}

	job.Status = status
	job.Progress = progress
	job.Reason = reason
	return job, nil
}

// ClaimRunnable atomically claims the oldest runnable stage record of a
// class. Dependency readiness is checked here, at pull time, so upstream
// stages that complete after enqueue are tolerated. FOR UPDATE SKIP LOCKED
// keeps racing workers off each other's claims.
func (r *jobRepo) ClaimRunnable(ctx context.Context, class string) (*model.StageRecord, error) {
	var claimed *model.StageRecord

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetch = `
SELECT sr.id, sr.job_id, sr.name, sr.class, sr.status, sr.attempts, sr.depends_on, sr.output_ref, sr.error_detail, sr.next_run_at, sr.started_at, sr.finished_at, sr.created_at, sr.updated_at
FROM stage_records sr
JOIN jobs j ON j.id = sr.job_id
WHERE sr.class = $1
  AND sr.status = 'pending'
  AND sr.next_run_at <= now()
  AND j.status IN ('pending', 'processing')
  AND NOT EXISTS (
    SELECT 1 FROM stage_records d
    WHERE d.job_id = sr.job_id
      AND d.name = ANY(sr.depends_on)
      AND d.status <> 'succeeded'
  )
ORDER BY sr.created_at
LIMIT 1
FOR UPDATE OF sr SKIP LOCKED`

		row, err := pickRow(ctx, r.pool, tx, fetch, class)
		if err != nil {
			return err
		}
		sr, err := scanStage(row)
		if err != nil {
			return err
		}

		const claim = `
UPDATE stage_records SET
  status = 'running', attempts = attempts + 1,
  started_at = COALESCE(started_at, now()), updated_at = now()
WHERE id = $1`
		if _, err := execSQL(ctx, r.pool, tx, claim, sr.ID); err != nil {
			return err
		}

		sr.Status = model.StageRunning
		sr.Attempts++
		claimed = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) SetDocumentMetadata(ctx context.Context, tx repository.Tx, documentID string, pageCount int, language string) error {
	const q = `UPDATE documents SET page_count = $2, language = $3 WHERE id = $1 AND page_count = 0`
	_, err := execSQL(ctx, r.pool, tx, q, documentID, pageCount, language)
	return err
}

func (r *jobRepo) CancelJob(ctx context.Context, tx repository.Tx, jobID, reason string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		// Terminal states are append-only facts; cancellation no-ops.
		return job, nil
	}

	const qStages = `
UPDATE stage_records SET status = 'skipped', finished_at = now(), updated_at = now()
WHERE job_id = $1 AND status IN ('pending', 'running')`
	if _, err := execSQL(ctx, r.pool, tx, qStages, jobID); err != nil {
		return nil, err
	}

	const qJob = `
UPDATE jobs SET status = 'failed', progress = 100, reason = $2, completed_at = now(), updated_at = now()
WHERE id = $1`
	if _, err := execSQL(ctx, r.pool, tx, qJob, jobID, reason); err != nil {
		return nil, err
	}

	job.Status = model.JobStatusFailed
	job.Progress = 100
	job.Reason = reason
	return job, nil
}

func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// Deleting the document cascades to the job and its stage records.
	const q = `
DELETE FROM documents d
USING jobs j
WHERE j.document_id = d.id
  AND j.status IN ('completed', 'failed')
  AND j.completed_at < $1`
	tag, err := execSQL(ctx, r.pool, repository.NoTX, q, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
