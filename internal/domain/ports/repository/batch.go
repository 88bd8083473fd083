package repository

import (
	"context"

	"intellidoc-pipeline/internal/domain/model"
)

type BatchRepository interface {
	SaveBatch(ctx context.Context, tx Tx, batch *model.BatchJob) error
	FindBatch(ctx context.Context, tx Tx, batchID string) (*model.BatchJob, error)
	// ListMemberJobs returns the batch member jobs in submission order.
	ListMemberJobs(ctx context.Context, tx Tx, batchID string) ([]*model.Job, error)
}
