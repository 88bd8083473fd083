package model

import "time"

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

// stageTransitions is the allowed transition table. running -> pending is the
// transient-retry requeue path.
var stageTransitions = map[StageStatus][]StageStatus{
	StagePending: {StageRunning, StageSkipped},
	StageRunning: {StageSucceeded, StageFailed, StagePending, StageSkipped},
}

// CanTransitionTo reports whether from -> to is a legal stage transition.
func (s StageStatus) CanTransitionTo(to StageStatus) bool {
	for _, t := range stageTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// StageRecord is the persisted execution record of one (job, stage) pair.
// All mutation happens through compare-and-swap transitions keyed by
// (job, stage, expected current status); racing workers lose with
// ErrInvalidTransition and no-op.
type StageRecord struct {
	ID          string
	JobID       string
	Name        string
	Class       string // worker pool class: ocr | nlp | embedding
	Status      StageStatus
	Attempts    int
	DependsOn   []string
	OutputRef   string // object-store locator of the stage output, set on success
	ErrorDetail string
	NextRunAt   time.Time // earliest time a pending record may be claimed
	StartedAt   *time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ready reports whether every declared dependency is satisfied given the
// sibling records. Checked again at claim time inside the store.
func (sr *StageRecord) Ready(siblings []*StageRecord) bool {
	byName := make(map[string]StageStatus, len(siblings))
	for _, s := range siblings {
		byName[s.Name] = s.Status
	}
	for _, dep := range sr.DependsOn {
		if byName[dep] != StageSucceeded {
			return false
		}
	}
	return true
}
