// Package usecase holds the application services: the pipeline orchestrator
// and the client-facing job, result, batch and webhook use cases. All state
// transitions flow through the orchestrator so the transition rules live in
// exactly one place.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/adapter"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/logging"
	"intellidoc-pipeline/internal/infra/metrics"
	"intellidoc-pipeline/internal/pipeline"
)

// Kicker wakes the worker loop of a stage class ahead of its next poll.
type Kicker interface {
	Kick(class string)
}

// Notifier wakes the webhook dispatcher after new events were enqueued.
type Notifier interface {
	Kick()
}

// StatusCache is the read-side cache of job status views.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*model.JobStatusView, bool)
	Set(ctx context.Context, view *model.JobStatusView)
	Invalidate(ctx context.Context, jobID string)
}

// CreateJobParams describes one document submission.
type CreateJobParams struct {
	Filename string
	MimeType string
	Raw      []byte
	Stages   []string // requested stage names; empty selects every stage
	BatchID  string
}

// Orchestrator owns the job lifecycle: creation, stage completion and
// cancellation. Every transition commits atomically with the job
// progress/status recomputation it implies.
type Orchestrator interface {
	CreateJob(ctx context.Context, p CreateJobParams) (*model.Job, error)
	// CompleteStage records the outcome of one stage attempt. A transient
	// failure with retry budget left requeues the stage; anything else is
	// final. A lost transition race (cancelled or already-completed stage)
	// is absorbed as a no-op.
	CompleteStage(ctx context.Context, rec *model.StageRecord, out *model.StageOutput, execErr error) error
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
}

var _ Orchestrator = (*orchestrator)(nil)

// RetryPolicy bounds transient-failure retries per stage.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// Backoff returns the delay before the given (1-based) attempt is retried.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	d := p.Base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

type orchestrator struct {
	tm       repository.TransactionManager
	jobs     repository.JobRepository
	hooks    repository.WebhookRepository
	store    adapter.ObjectStore
	cache    StatusCache
	registry *pipeline.Registry
	retry    RetryPolicy
	kicker   Kicker
	notifier Notifier
	log      *zerolog.Logger
}

func NewOrchestrator(
	tm repository.TransactionManager,
	jobs repository.JobRepository,
	hooks repository.WebhookRepository,
	store adapter.ObjectStore,
	cache StatusCache,
	registry *pipeline.Registry,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *orchestrator {
	l := logger.With().Str("component", "orchestrator").Logger()
	return &orchestrator{
		tm:       tm,
		jobs:     jobs,
		hooks:    hooks,
		store:    store,
		cache:    cache,
		registry: registry,
		retry:    retry,
		log:      &l,
	}
}

// SetKicker and SetNotifier break the construction cycle: the fleet and the
// dispatcher need the orchestrator, the orchestrator needs their wake-ups.
func (o *orchestrator) SetKicker(k Kicker)     { o.kicker = k }
func (o *orchestrator) SetNotifier(n Notifier) { o.notifier = n }

func (o *orchestrator) kickAll() {
	if o.kicker == nil {
		return
	}
	for _, class := range o.registry.Classes() {
		o.kicker.Kick(class)
	}
}

func (o *orchestrator) CreateJob(ctx context.Context, p CreateJobParams) (*model.Job, error) {
	if len(p.Raw) == 0 || p.Filename == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !model.SupportedMimeTypes[p.MimeType] {
		return nil, domain.ErrUnsupportedFormat
	}

	requested := p.Stages
	if len(requested) == 0 {
		requested = o.registry.Names()
	}
	defs, err := o.registry.Resolve(requested)
	if err != nil {
		return nil, err
	}

	locator, err := o.store.Put(ctx, p.Raw)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		Filename:  p.Filename,
		Locator:   locator,
		SizeBytes: int64(len(p.Raw)),
		MimeType:  p.MimeType,
	}
	names := make([]string, len(defs))
	records := make([]*model.StageRecord, len(defs))
	for i, def := range defs {
		names[i] = def.Name
		records[i] = &model.StageRecord{
			Name:      def.Name,
			Class:     def.Class,
			Status:    model.StagePending,
			DependsOn: def.DependsOn,
		}
	}
	job := &model.Job{
		BatchID: p.BatchID,
		Status:  model.JobStatusPending,
		Stages:  names,
	}

	err = o.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return o.jobs.CreateJob(ctx, tx, doc, job, records)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncJobCreated()
	logging.With(ctx, o.log).Info().
		Str("job_id", job.ID).Str("filename", p.Filename).Int("stages", len(names)).
		Msg("job created")
	o.kickAll()
	return job, nil
}

func (o *orchestrator) CompleteStage(ctx context.Context, rec *model.StageRecord, out *model.StageOutput, execErr error) error {
	tr, retried, err := o.planTransition(ctx, rec, out, execErr)
	if err != nil {
		return err
	}

	var after *model.Job
	err = o.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := o.jobs.UpdateStage(ctx, tx, rec.JobID, rec.Name, tr); err != nil {
			return err
		}

		if tr.To == model.StageSucceeded && out != nil && out.PageCount > 0 {
			job, err := o.jobs.FindJob(ctx, tx, rec.JobID)
			if err != nil {
				return err
			}
			if err := o.jobs.SetDocumentMetadata(ctx, tx, job.DocumentID, out.PageCount, out.Language); err != nil {
				return err
			}
		}

		if tr.To == model.StageFailed {
			if _, err := o.jobs.SkipDependents(ctx, tx, rec.JobID, rec.Name); err != nil {
				return err
			}
		}

		job, err := o.jobs.RecomputeProgress(ctx, tx, rec.JobID)
		if err != nil {
			return err
		}
		after = job

		if job.Status.Terminal() {
			return o.enqueueTerminalEvent(ctx, tx, job)
		}
		return nil
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// The stage moved underneath us (cancellation, or a duplicate
		// delivery of the same attempt). The other writer won; drop ours.
		logging.With(ctx, o.log).Debug().Str("stage", rec.Name).Msg("stage transition lost race")
		return nil
	}
	if err != nil {
		return err
	}

	o.cache.Invalidate(ctx, rec.JobID)
	if retried {
		metrics.IncStageRetry(rec.Name)
	}
	if after.Status.Terminal() {
		metrics.IncJobFinished(string(after.Status))
		if o.notifier != nil {
			o.notifier.Kick()
		}
	}
	if tr.To == model.StageSucceeded {
		o.kickAll()
	}
	return nil
}

// planTransition maps a stage outcome onto a CAS transition, storing the
// output blob first on success so the locator is known before commit.
func (o *orchestrator) planTransition(ctx context.Context, rec *model.StageRecord, out *model.StageOutput, execErr error) (repository.StageTransition, bool, error) {
	if execErr == nil {
		b, err := json.Marshal(out)
		if err != nil {
			return repository.StageTransition{}, false, err
		}
		ref, err := o.store.Put(ctx, b)
		if err != nil {
			return repository.StageTransition{}, false, err
		}
		return repository.StageTransition{
			From:      model.StageRunning,
			To:        model.StageSucceeded,
			OutputRef: ref,
		}, false, nil
	}

	if domain.IsTransient(execErr) && rec.Attempts < o.retry.MaxAttempts {
		return repository.StageTransition{
			From:        model.StageRunning,
			To:          model.StagePending,
			ErrorDetail: execErr.Error(),
			NextRunAt:   time.Now().Add(o.retry.Backoff(rec.Attempts)),
		}, true, nil
	}

	return repository.StageTransition{
		From:        model.StageRunning,
		To:          model.StageFailed,
		ErrorDetail: execErr.Error(),
	}, false, nil
}

func (o *orchestrator) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	var (
		job       *model.Job
		cancelled bool
	)
	err := o.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		prev, err := o.jobs.FindJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if prev.Status.Terminal() {
			job = prev
			return nil
		}

		job, err = o.jobs.CancelJob(ctx, tx, jobID, domain.ReasonCancelled)
		if err != nil {
			return err
		}
		cancelled = true
		return o.enqueueTerminalEvent(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	if cancelled {
		o.cache.Invalidate(ctx, jobID)
		metrics.IncJobCancelled()
		metrics.IncJobFinished(string(job.Status))
		if o.notifier != nil {
			o.notifier.Kick()
		}
		logging.With(ctx, o.log).Info().Str("job_id", jobID).Msg("job cancelled")
	}
	return job, nil
}

// enqueueTerminalEvent appends the job's terminal webhook event to the outbox
// inside the transaction that made the job terminal. At most one terminal
// transition commits per job, so at most one event is ever enqueued for it.
func (o *orchestrator) enqueueTerminalEvent(ctx context.Context, tx repository.Tx, job *model.Job) error {
	event := model.EventJobCompleted
	if job.Status == model.JobStatusFailed {
		event = model.EventJobFailed
	}

	payload, err := json.Marshal(struct {
		JobID    string          `json:"job_id"`
		Status   model.JobStatus `json:"status"`
		Progress int             `json:"progress"`
		Error    string          `json:"error,omitempty"`
	}{JobID: job.ID, Status: job.Status, Progress: job.Progress, Error: job.Reason})
	if err != nil {
		return err
	}

	return o.hooks.EnqueueEvent(ctx, tx, &model.WebhookEvent{
		ID:        ulid.Make().String(),
		JobID:     job.ID,
		Event:     event,
		Payload:   payload,
		NextRunAt: time.Now(),
	})
}
