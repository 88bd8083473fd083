// Package sched holds the periodic maintenance workers.
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/metrics"
)

// RetentionWorker periodically deletes terminal jobs older than the retention
// TTL, along with their documents and stage records. This is the only path
// that destroys jobs; nothing else may delete one.
type RetentionWorker struct {
	ttl      time.Duration
	interval time.Duration
	jobs     repository.JobRepository
	log      *zerolog.Logger
}

func NewRetentionWorker(ttl, interval time.Duration, jobs repository.JobRepository, logger *zerolog.Logger) *RetentionWorker {
	l := logger.With().Str("component", "retention_worker").Logger()
	return &RetentionWorker{ttl: ttl, interval: interval, jobs: jobs, log: &l}
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("ttl", w.ttl).Dur("interval", w.interval).Msg("starting retention worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping retention worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.jobs.DeleteTerminalBefore(ctx, time.Now().Add(-w.ttl))
			if err != nil {
				w.log.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if n > 0 {
				metrics.AddJobsReaped(n)
				w.log.Info().Int("count", n).Msg("expired jobs deleted")
			}
		}
	}
}
