package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain/ports/adapter"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/pipeline"
	"intellidoc-pipeline/internal/usecase"
)

var _ usecase.Kicker = (*Fleet)(nil)

// Fleet owns one pool and one processor per stage class and implements the
// orchestrator's Kicker port, routing wake-ups to the right class loop.
type Fleet struct {
	pools map[string]*Pool
	procs map[string]*StageProcessor
}

// FleetConfig carries the per-class budgets and shared timing knobs.
type FleetConfig struct {
	Budgets      map[string]int
	StageTimeout time.Duration
	PollInterval time.Duration
}

func NewFleet(
	cfg FleetConfig,
	registry *pipeline.Registry,
	jobs repository.JobRepository,
	store adapter.ObjectStore,
	orch usecase.Orchestrator,
	logger *zerolog.Logger,
) *Fleet {
	f := &Fleet{
		pools: make(map[string]*Pool),
		procs: make(map[string]*StageProcessor),
	}
	for _, class := range registry.Classes() {
		f.pools[class] = NewPool(class, cfg.Budgets[class], logger)
		f.procs[class] = NewStageProcessor(class, jobs, store, registry, orch,
			cfg.StageTimeout, cfg.PollInterval, logger)
	}
	return f
}

func (f *Fleet) Start(ctx context.Context) {
	for class, pool := range f.pools {
		pool.Start(ctx)
		go f.procs[class].Start(ctx, pool)
	}
}

func (f *Fleet) Stop() {
	for _, pool := range f.pools {
		pool.Stop()
	}
}

func (f *Fleet) Kick(class string) {
	if p, ok := f.procs[class]; ok {
		p.Kick()
	}
}
