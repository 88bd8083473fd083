package repository

import (
	"context"
	"time"

	"intellidoc-pipeline/internal/domain/model"
)

// StageTransition describes a compare-and-swap update of one stage record.
// The update only applies while the record is still in From; a lost race
// surfaces as domain.ErrInvalidTransition and must be treated as a no-op.
type StageTransition struct {
	From        model.StageStatus
	To          model.StageStatus
	OutputRef   string
	ErrorDetail string
	NextRunAt   time.Time // requeue time for running -> pending retries
}

type JobRepository interface {
	// CreateJob persists the document, the job and all stage records in one
	// transaction. Fails with domain.ErrDuplicateSubmission when an in-flight
	// job exists for the same content locator.
	CreateJob(ctx context.Context, tx Tx, doc *model.Document, job *model.Job, stages []*model.StageRecord) error

	FindJob(ctx context.Context, tx Tx, jobID string) (*model.Job, error)
	FindDocument(ctx context.Context, tx Tx, documentID string) (*model.Document, error)
	ListStages(ctx context.Context, tx Tx, jobID string) ([]*model.StageRecord, error)
	FindInFlightByLocator(ctx context.Context, tx Tx, locator string) (*model.Job, error)

	// UpdateStage applies a CAS transition to one stage record.
	UpdateStage(ctx context.Context, tx Tx, jobID, stage string, tr StageTransition) error

	// SkipDependents marks every non-terminal stage that transitively depends
	// on the given failed stage as skipped. Returns the skipped stage names.
	SkipDependents(ctx context.Context, tx Tx, jobID, failedStage string) ([]string, error)

	// RecomputeProgress re-derives job progress and status from the stage
	// records and persists them. Progress never decreases; terminal jobs are
	// returned unchanged.
	RecomputeProgress(ctx context.Context, tx Tx, jobID string) (*model.Job, error)

	// ClaimRunnable atomically claims the oldest pending stage record of the
	// given class whose dependencies have all succeeded and whose job is not
	// terminal, moving it pending -> running and incrementing the attempt
	// counter. Returns domain.ErrNotFound when nothing is runnable.
	ClaimRunnable(ctx context.Context, class string) (*model.StageRecord, error)

	// SetDocumentMetadata writes the extraction-derived fields once.
	SetDocumentMetadata(ctx context.Context, tx Tx, documentID string, pageCount int, language string) error

	// CancelJob skips all non-terminal stages and fails the job with the
	// given reason, inside the caller's transaction. Terminal jobs are
	// returned as-is.
	CancelJob(ctx context.Context, tx Tx, jobID, reason string) (*model.Job, error)

	// DeleteTerminalBefore removes terminal jobs (and their documents and
	// stage records) completed before the cutoff. Retention cleanup is the
	// only path that destroys jobs.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}
