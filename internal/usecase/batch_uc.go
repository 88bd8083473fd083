package usecase

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/logging"
)

// maxBatchSubmitConcurrency bounds parallel member creation per batch.
const maxBatchSubmitConcurrency = 4

// BatchItemResult reports the outcome of one member submission. Members are
// independent: a rejected document (duplicate, unsupported type) does not
// block the rest of the batch.
type BatchItemResult struct {
	Filename string
	JobID    string
	Err      error
}

type BatchUC interface {
	Submit(ctx context.Context, items []CreateJobParams) (*model.BatchJob, []BatchItemResult, error)
	GetStatus(ctx context.Context, batchID string) (*model.BatchStatusView, error)
}

var _ BatchUC = (*batchUC)(nil)

type batchUC struct {
	orch     Orchestrator
	batches  repository.BatchRepository
	failFast bool
	log      *zerolog.Logger
}

func NewBatchUC(orch Orchestrator, batches repository.BatchRepository, failFast bool, logger *zerolog.Logger) *batchUC {
	l := logger.With().Str("component", "batch_uc").Logger()
	return &batchUC{orch: orch, batches: batches, failFast: failFast, log: &l}
}

func (u *batchUC) Submit(ctx context.Context, items []CreateJobParams) (*model.BatchJob, []BatchItemResult, error) {
	if len(items) == 0 {
		return nil, nil, domain.ErrInvalidArgument
	}

	batch := &model.BatchJob{ID: uuid.NewString(), FailFast: u.failFast}
	if err := u.batches.SaveBatch(ctx, repository.NoTX, batch); err != nil {
		return nil, nil, err
	}
	ctx = logging.WithBatchID(ctx, batch.ID)

	results := make([]BatchItemResult, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchSubmitConcurrency)
	for i, item := range items {
		i, item := i, item
		item.BatchID = batch.ID
		g.Go(func() error {
			job, err := u.orch.CreateJob(gctx, item)
			res := BatchItemResult{Filename: item.Filename, Err: err}
			if err == nil {
				res.JobID = job.ID
				mu.Lock()
				batch.JobIDs = append(batch.JobIDs, job.ID)
				mu.Unlock()
			}
			results[i] = res
			// Member rejections are reported per item, not as a batch error.
			return nil
		})
	}
	_ = g.Wait()

	logging.With(ctx, u.log).Info().
		Int("total", len(items)).Int("accepted", len(batch.JobIDs)).
		Msg("batch submitted")
	return batch, results, nil
}

func (u *batchUC) GetStatus(ctx context.Context, batchID string) (*model.BatchStatusView, error) {
	batch, err := u.batches.FindBatch(ctx, repository.NoTX, batchID)
	if err != nil {
		return nil, err
	}
	members, err := u.batches.ListMemberJobs(ctx, repository.NoTX, batchID)
	if err != nil {
		return nil, err
	}

	view := &model.BatchStatusView{
		BatchID:   batch.ID,
		Status:    model.DeriveBatchStatus(members, batch.FailFast),
		Total:     len(members),
		CreatedAt: batch.CreatedAt,
	}
	for _, j := range members {
		switch j.Status {
		case model.JobStatusCompleted:
			view.Completed++
		case model.JobStatusFailed:
			view.Failed++
		}
		view.Jobs = append(view.Jobs, model.BatchMemberView{
			JobID:    j.ID,
			Status:   j.Status,
			Progress: j.Progress,
			Error:    j.Reason,
		})
	}
	return view, nil
}
