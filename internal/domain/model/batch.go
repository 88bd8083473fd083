package model

import "time"

// BatchJob groups jobs submitted together. Its aggregate status is always
// derived from the member jobs, never stored, so it cannot diverge.
type BatchJob struct {
	ID        string
	JobIDs    []string
	FailFast  bool
	CreatedAt time.Time
}

// BatchStatusView is the client-facing snapshot of a batch and its members.
type BatchStatusView struct {
	BatchID   string            `json:"batch_id"`
	Status    JobStatus         `json:"status"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Jobs      []BatchMemberView `json:"jobs"`
	CreatedAt time.Time         `json:"created_at"`
}

type BatchMemberView struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty"`
}

// DeriveBatchStatus computes the aggregate status of a batch from its member
// jobs. Under fail-fast the batch reports failed as soon as any member fails,
// without waiting for the rest.
func DeriveBatchStatus(members []*Job, failFast bool) JobStatus {
	if len(members) == 0 {
		return JobStatusPending
	}
	var completed, failed, started int
	for _, j := range members {
		switch j.Status {
		case JobStatusCompleted:
			completed++
		case JobStatusFailed:
			failed++
		case JobStatusProcessing:
			started++
		}
	}
	switch {
	case failed > 0 && failFast:
		return JobStatusFailed
	case completed == len(members):
		return JobStatusCompleted
	case failed > 0 && completed+failed == len(members):
		return JobStatusFailed
	case started > 0 || completed > 0 || failed > 0:
		return JobStatusProcessing
	default:
		return JobStatusPending
	}
}
