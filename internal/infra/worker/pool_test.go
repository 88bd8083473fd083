package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool("nlp", 2, testLogger())
	pool.Start(ctx)
	defer pool.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			seen++
			mu.Unlock()
			return nil
		}
		for {
			if err := pool.Submit(task); err == nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	if seen != 5 {
		t.Fatalf("ran %d tasks, want 5", seen)
	}
}

func TestPool_SubmitSaturation(t *testing.T) {
	t.Parallel()
	// Never started: the queue (capacity 4 for one worker) fills up and
	// further submissions are rejected instead of blocking.
	pool := NewPool("ocr", 1, testLogger())

	task := func(ctx context.Context) error { return nil }
	for i := 0; i < 4; i++ {
		if err := pool.Submit(task); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := pool.Submit(task); !errors.Is(err, domain.ErrQueueSaturated) {
		t.Fatalf("expected ErrQueueSaturated, got %v", err)
	}

	if err := pool.Submit(nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("nil task: %v", err)
	}
}
