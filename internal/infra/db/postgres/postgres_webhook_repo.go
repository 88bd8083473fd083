package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
)

var _ repository.WebhookRepository = (*webhookRepo)(nil)

type webhookRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookRepo(pool *pgxpool.Pool) *webhookRepo {
	return &webhookRepo{pool: pool}
}

func (r *webhookRepo) SaveSubscription(ctx context.Context, tx repository.Tx, sub *model.WebhookSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO webhook_subscriptions (id, url, events, secret, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := execSQL(ctx, r.pool, tx, q, sub.ID, sub.URL, sub.Events, sub.Secret, sub.CreatedAt)
	return err
}

func (r *webhookRepo) ListSubscriptions(ctx context.Context, tx repository.Tx, event string) ([]*model.WebhookSubscription, error) {
	const q = `
SELECT id, url, events, secret, created_at
FROM webhook_subscriptions
WHERE $1 = ANY(events)
ORDER BY created_at`
	rows, err := pickRows(ctx, r.pool, tx, q, event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WebhookSubscription
	for rows.Next() {
		var s model.WebhookSubscription
		if err := rows.Scan(&s.ID, &s.URL, &s.Events, &s.Secret, &s.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *webhookRepo) EnqueueEvent(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if ev.NextRunAt.IsZero() {
		ev.NextRunAt = ev.CreatedAt
	}
	const q = `
INSERT INTO webhook_events (id, job_id, event, payload, next_run_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING seq`
	row, err := pickRow(ctx, r.pool, tx, q, ev.ID, ev.JobID, ev.Event, ev.Payload, ev.NextRunAt, ev.CreatedAt)
	if err != nil {
		return err
	}
	return row.Scan(&ev.Sequence)
}

func (r *webhookRepo) ListDeliverable(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	const q = `
SELECT seq, id, job_id, event, payload, attempts, last_error, next_run_at, delivered_at, dropped, created_at
FROM webhook_events
WHERE delivered_at IS NULL AND NOT dropped AND next_run_at <= now()
ORDER BY seq
LIMIT $1`
	rows, err := pickRows(ctx, r.pool, repository.NoTX, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WebhookEvent
	for rows.Next() {
		var ev model.WebhookEvent
		if err := rows.Scan(&ev.Sequence, &ev.ID, &ev.JobID, &ev.Event, &ev.Payload,
			&ev.Attempts, &ev.LastError, &ev.NextRunAt, &ev.DeliveredAt, &ev.Dropped, &ev.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (r *webhookRepo) MarkDelivered(ctx context.Context, eventID string) error {
	const q = `UPDATE webhook_events SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`
	tag, err := execSQL(ctx, r.pool, repository.NoTX, q, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *webhookRepo) RecordAttempt(ctx context.Context, eventID string, nextRunAt time.Time, lastError string) error {
	const q = `
UPDATE webhook_events SET attempts = attempts + 1, next_run_at = $2, last_error = $3
WHERE id = $1`
	_, err := execSQL(ctx, r.pool, repository.NoTX, q, eventID, nextRunAt, lastError)
	return err
}

func (r *webhookRepo) DropEvent(ctx context.Context, eventID string, lastError string) error {
	const q = `UPDATE webhook_events SET dropped = TRUE, last_error = $2 WHERE id = $1`
	_, err := execSQL(ctx, r.pool, repository.NoTX, q, eventID, lastError)
	return err
}
