package repository

import (
	"context"
	"time"

	"intellidoc-pipeline/internal/domain/model"
)

type WebhookRepository interface {
	SaveSubscription(ctx context.Context, tx Tx, sub *model.WebhookSubscription) error
	ListSubscriptions(ctx context.Context, tx Tx, event string) ([]*model.WebhookSubscription, error)

	// EnqueueEvent appends an event to the outbox and assigns its monotonic
	// sequence number. Called inside the same transaction as the terminal
	// job transition that produced it.
	EnqueueEvent(ctx context.Context, tx Tx, ev *model.WebhookEvent) error

	// ListDeliverable returns undelivered, undropped events whose retry time
	// has come, oldest first.
	ListDeliverable(ctx context.Context, limit int) ([]*model.WebhookEvent, error)

	MarkDelivered(ctx context.Context, eventID string) error
	RecordAttempt(ctx context.Context, eventID string, nextRunAt time.Time, lastError string) error
	DropEvent(ctx context.Context, eventID string, lastError string) error
}
