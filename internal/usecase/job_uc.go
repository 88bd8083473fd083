package usecase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/logging"
)

// JobUC is the client-facing job service: submission, status polling and
// cancellation.
type JobUC interface {
	Submit(ctx context.Context, p CreateJobParams) (*model.Job, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error)
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
}

var _ JobUC = (*jobUC)(nil)

type jobUC struct {
	orch  Orchestrator
	tm    repository.TransactionManager
	jobs  repository.JobRepository
	cache StatusCache
	log   *zerolog.Logger
}

func NewJobUC(
	orch Orchestrator,
	tm repository.TransactionManager,
	jobs repository.JobRepository,
	cache StatusCache,
	logger *zerolog.Logger,
) *jobUC {
	l := logger.With().Str("component", "job_uc").Logger()
	return &jobUC{orch: orch, tm: tm, jobs: jobs, cache: cache, log: &l}
}

func (u *jobUC) Submit(ctx context.Context, p CreateJobParams) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "JobUC.Submit")()
	return u.orch.CreateJob(ctx, p)
}

// GetStatus serves the cached snapshot when present; the cache is invalidated
// on every committed transition, so a hit is never staler than the last one.
func (u *jobUC) GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	if view, ok := u.cache.Get(ctx, jobID); ok {
		return view, nil
	}

	var view *model.JobStatusView
	err := u.tm.WithTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx repository.Tx) error {
		job, err := u.jobs.FindJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		doc, err := u.jobs.FindDocument(ctx, tx, job.DocumentID)
		if err != nil {
			return err
		}
		stages, err := u.jobs.ListStages(ctx, tx, jobID)
		if err != nil {
			return err
		}
		view = buildStatusView(job, doc, stages, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.cache.Set(ctx, view)
	return view, nil
}

func (u *jobUC) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	return u.orch.Cancel(ctx, jobID)
}

func buildStatusView(job *model.Job, doc *model.Document, stages []*model.StageRecord, now time.Time) *model.JobStatusView {
	view := &model.JobStatusView{
		JobID:               job.ID,
		Status:              job.Status,
		Progress:            job.Progress,
		Filename:            doc.Filename,
		Error:               job.Reason,
		CreatedAt:           job.CreatedAt,
		StartedAt:           job.StartedAt,
		CompletedAt:         job.CompletedAt,
		EstimatedCompletion: model.EstimateCompletion(job, now),
	}
	for _, sr := range stages {
		view.PerStage = append(view.PerStage, model.StageStatusView{
			Name:     sr.Name,
			Status:   sr.Status,
			Attempts: sr.Attempts,
			Error:    sr.ErrorDetail,
		})
	}
	return view
}
