package adapter

import (
	"context"

	"intellidoc-pipeline/internal/domain/model"
)

// StageInput carries everything a stage function may need. Stage functions
// are pure with respect to the pipeline: no repository access, input in,
// output or error out.
type StageInput struct {
	JobID    string
	Document *model.Document
	// Raw holds the original document bytes; populated for stages that read
	// the source artifact directly (extraction).
	Raw []byte
	// Upstream maps dependency stage names to their outputs.
	Upstream map[string]*model.StageOutput
}

// StageFunc is the uniform contract every processing stage implements.
// Failures are reported as *domain.StageError; anything else is treated as
// transient and retried.
type StageFunc func(ctx context.Context, in StageInput) (*model.StageOutput, error)
