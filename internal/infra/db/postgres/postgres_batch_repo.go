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

var _ repository.BatchRepository = (*batchRepo)(nil)

type batchRepo struct {
	pool *pgxpool.Pool
}

func NewBatchRepo(pool *pgxpool.Pool) *batchRepo {
	return &batchRepo{pool: pool}
}

func (r *batchRepo) SaveBatch(ctx context.Context, tx repository.Tx, batch *model.BatchJob) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	const q = `INSERT INTO batches (id, fail_fast, created_at) VALUES ($1, $2, $3)`
	_, err := execSQL(ctx, r.pool, tx, q, batch.ID, batch.FailFast, batch.CreatedAt)
	return err
}

func (r *batchRepo) FindBatch(ctx context.Context, tx repository.Tx, batchID string) (*model.BatchJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT id, fail_fast, created_at FROM batches WHERE id = $1`, batchID)
	if err != nil {
		return nil, err
	}
	var b model.BatchJob
	if err := row.Scan(&b.ID, &b.FailFast, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}

	rows, err := pickRows(ctx, r.pool, tx, `SELECT id FROM jobs WHERE batch_id = $1 ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		b.JobIDs = append(b.JobIDs, id)
	}
	return &b, rows.Err()
}

func (r *batchRepo) ListMemberJobs(ctx context.Context, tx repository.Tx, batchID string) ([]*model.Job, error) {
	rows, err := pickRows(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE batch_id = $1 ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
