package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/adapter"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/logging"
	"intellidoc-pipeline/internal/infra/metrics"
	"intellidoc-pipeline/internal/pipeline"
	"intellidoc-pipeline/internal/usecase"
)

// StageProcessor drives one stage class: it polls the store for runnable
// stage records, executes the stage function with a per-attempt timeout and
// reports the outcome to the orchestrator. Claims go through
// ClaimRunnable, so any number of processors can race safely.
type StageProcessor struct {
	class    string
	jobs     repository.JobRepository
	store    adapter.ObjectStore
	registry *pipeline.Registry
	orch     usecase.Orchestrator
	timeout  time.Duration
	poll     time.Duration
	kick     chan struct{}
	log      *zerolog.Logger
}

func NewStageProcessor(
	class string,
	jobs repository.JobRepository,
	store adapter.ObjectStore,
	registry *pipeline.Registry,
	orch usecase.Orchestrator,
	timeout, poll time.Duration,
	logger *zerolog.Logger,
) *StageProcessor {
	l := logger.With().Str("component", "stage_processor").Str("class", class).Logger()
	return &StageProcessor{
		class:    class,
		jobs:     jobs,
		store:    store,
		registry: registry,
		orch:     orch,
		timeout:  timeout,
		poll:     poll,
		kick:     make(chan struct{}, 1),
		log:      &l,
	}
}

// Kick wakes the loop ahead of the next poll tick. Non-blocking; a pending
// kick already covers the wake-up.
func (p *StageProcessor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start runs the claim loop until ctx is cancelled. Should be run in a
// goroutine.
func (p *StageProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Msg("stage processor started")
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("stage processor stopping")
			return
		case <-ticker.C:
		case <-p.kick:
		}
		_ = pool.Submit(func(ctx context.Context) error {
			p.processOne(ctx)
			return nil
		})
	}
}

func (p *StageProcessor) processOne(ctx context.Context) {
	rec, err := p.jobs.ClaimRunnable(ctx, p.class)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.log.Error().Err(err).Msg("claim failed")
		}
		return
	}
	// More records may be waiting behind this one.
	defer p.Kick()

	ctx = logging.WithJobID(logging.WithStage(ctx, rec.Name), rec.JobID)
	log := logging.With(ctx, p.log)
	log.Info().Int("attempt", rec.Attempts).Msg("stage claimed")

	out, execErr := p.execute(ctx, rec)
	if err := p.orch.CompleteStage(ctx, rec, out, execErr); err != nil {
		log.Error().Err(err).Msg("stage completion failed")
	}
}

func (p *StageProcessor) execute(ctx context.Context, rec *model.StageRecord) (*model.StageOutput, error) {
	def, ok := p.registry.Get(rec.Name)
	if !ok {
		return nil, domain.NewPermanentStageError(fmt.Sprintf("stage %q not registered", rec.Name), domain.ErrUnknownStage)
	}

	in, err := p.buildInput(ctx, rec, def)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	out, execErr := def.Fn(cctx, *in)
	elapsed := time.Since(start)

	if execErr != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		execErr = domain.NewTransientStageError("stage timed out", execErr)
	}

	outcome := "succeeded"
	if execErr != nil {
		outcome = "failed"
	}
	metrics.ObserveStage(rec.Name, outcome, elapsed.Seconds())
	return out, execErr
}

// buildInput assembles the stage input: the document row, the raw artifact
// for root stages and the deserialized outputs of every dependency. Input
// assembly failures are transient; the records they point at were committed
// before this stage became claimable.
func (p *StageProcessor) buildInput(ctx context.Context, rec *model.StageRecord, def pipeline.Definition) (*adapter.StageInput, error) {
	job, err := p.jobs.FindJob(ctx, repository.NoTX, rec.JobID)
	if err != nil {
		return nil, domain.NewTransientStageError("load job", err)
	}
	doc, err := p.jobs.FindDocument(ctx, repository.NoTX, job.DocumentID)
	if err != nil {
		return nil, domain.NewTransientStageError("load document", err)
	}

	in := &adapter.StageInput{
		JobID:    rec.JobID,
		Document: doc,
		Upstream: make(map[string]*model.StageOutput, len(def.DependsOn)),
	}

	if len(def.DependsOn) == 0 {
		raw, err := p.store.Get(ctx, doc.Locator)
		if err != nil {
			return nil, domain.NewTransientStageError("load source artifact", err)
		}
		in.Raw = raw
		return in, nil
	}

	siblings, err := p.jobs.ListStages(ctx, repository.NoTX, rec.JobID)
	if err != nil {
		return nil, domain.NewTransientStageError("load stage records", err)
	}
	byName := make(map[string]*model.StageRecord, len(siblings))
	for _, s := range siblings {
		byName[s.Name] = s
	}
	for _, dep := range def.DependsOn {
		sib, ok := byName[dep]
		if !ok || sib.OutputRef == "" {
			return nil, domain.NewTransientStageError(fmt.Sprintf("dependency %q has no output yet", dep), nil)
		}
		b, err := p.store.Get(ctx, sib.OutputRef)
		if err != nil {
			return nil, domain.NewTransientStageError(fmt.Sprintf("load output of %q", dep), err)
		}
		var out model.StageOutput
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, domain.NewPermanentStageError(fmt.Sprintf("corrupt output of %q", dep), err)
		}
		in.Upstream[dep] = &out
	}
	return in, nil
}
