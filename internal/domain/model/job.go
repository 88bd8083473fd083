package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the end-to-end processing request for one document. Progress is
// monotonically non-decreasing and status only ever moves forward:
// pending -> processing -> completed|failed.
type Job struct {
	ID          string
	DocumentID  string
	BatchID     string // empty unless the job belongs to a batch
	Status      JobStatus
	Progress    int // 0..100
	Stages      []string
	Reason      string // human-readable terminal error, empty otherwise
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// DeriveJobState computes the job status and progress implied by a set of
// stage records. Progress is 100 * (succeeded + skipped) / total, floored.
// The job is completed iff every stage is succeeded or skipped with no
// failure, and failed iff any stage failed.
func DeriveJobState(stages []*StageRecord) (JobStatus, int) {
	if len(stages) == 0 {
		return JobStatusPending, 0
	}
	var done, failed, moved int
	for _, sr := range stages {
		switch sr.Status {
		case StageSucceeded, StageSkipped:
			done++
			moved++
		case StageFailed:
			failed++
			moved++
		case StageRunning:
			moved++
		}
	}
	progress := 100 * done / len(stages)
	switch {
	case failed > 0:
		// Dependents of the failed stage are skipped in the same transaction,
		// so the job flips to failed as soon as the failure commits.
		return JobStatusFailed, progress
	case done == len(stages):
		return JobStatusCompleted, progress
	case moved > 0:
		return JobStatusProcessing, progress
	default:
		return JobStatusPending, progress
	}
}

// JobStatusView is the client-facing snapshot served by status polling.
type JobStatusView struct {
	JobID               string            `json:"job_id"`
	Status              JobStatus         `json:"status"`
	Progress            int               `json:"progress"`
	Filename            string            `json:"filename"`
	PerStage            []StageStatusView `json:"per_stage"`
	Error               string            `json:"error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time        `json:"estimated_completion,omitempty"`
}

type StageStatusView struct {
	Name     string      `json:"name"`
	Status   StageStatus `json:"status"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error,omitempty"`
}

// EstimateCompletion extrapolates linearly from elapsed time and progress.
// Returns nil until there is something to extrapolate from.
func EstimateCompletion(job *Job, now time.Time) *time.Time {
	if job.Status.Terminal() || job.StartedAt == nil || job.Progress <= 0 {
		return nil
	}
	elapsed := now.Sub(*job.StartedAt)
	if elapsed <= 0 {
		return nil
	}
	total := time.Duration(float64(elapsed) * 100 / float64(job.Progress))
	eta := job.StartedAt.Add(total)
	return &eta
}
