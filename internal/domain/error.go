package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrNotReady            = errors.New("job processing not completed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDuplicateSubmission = errors.New("identical document already being processed")
	ErrUnsupportedFormat   = errors.New("unsupported output format")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnknownStage        = errors.New("unknown pipeline stage")
	ErrQueueSaturated      = errors.New("worker queue full")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrInvalidExecContext  = errors.New("invalid executor context")
)

// ReasonCancelled is recorded as the terminal reason of a cancelled job.
const ReasonCancelled = "Cancelled"

// StageErrorKind distinguishes failures a retry can fix from those it cannot.
type StageErrorKind string

const (
	StageErrorTransient StageErrorKind = "transient"
	StageErrorPermanent StageErrorKind = "permanent"
)

// StageError is the structured failure a stage function reports. Transient
// errors (timeouts, upstream resource exhaustion) are retried with backoff;
// permanent errors (malformed or unsupported content) fail the stage on the
// first attempt.
type StageError struct {
	Kind StageErrorKind
	Msg  string
	Err  error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s stage error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s stage error: %s", e.Kind, e.Msg)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewTransientStageError(msg string, err error) *StageError {
	return &StageError{Kind: StageErrorTransient, Msg: msg, Err: err}
}

func NewPermanentStageError(msg string, err error) *StageError {
	return &StageError{Kind: StageErrorPermanent, Msg: msg, Err: err}
}

// IsTransient reports whether err should be retried. Anything that is not an
// explicit StageError is treated as transient so that unexpected adapter
// failures (network blips, 5xx) get the benefit of the retry budget.
func IsTransient(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == StageErrorTransient
	}
	return true
}
