// Package worker runs the stage execution loops. One Pool per stage class
// gives each class an independent concurrency budget: OCR never starves the
// cheap NLP stages and the embedding pool mirrors the model-serving limit.
package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
)

type Task func(ctx context.Context) error

type Pool struct {
	class string
	wg    sync.WaitGroup
	jobs  chan Task
	quit  chan struct{}
	n     int
	log   *zerolog.Logger
}

func NewPool(class string, workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	l := logger.With().Str("component", "worker_pool").Str("class", class).Logger()
	return &Pool{
		class: class,
		jobs:  make(chan Task, workers*4),
		quit:  make(chan struct{}),
		n:     workers,
		log:   &l,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := task(ctx); err != nil {
						p.log.Error().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
	p.log.Info().Int("workers", p.n).Msg("pool started")
}

func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

// Submit enqueues a task without blocking. A saturated queue is not an error
// worth propagating to callers: claimed work stays pending in the store and
// the next poll tick picks it up.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return domain.ErrInvalidArgument
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return domain.ErrQueueSaturated
	}
}
