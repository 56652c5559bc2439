package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// DefaultMaxWorkers caps a batch's concurrency when none is configured.
const DefaultMaxWorkers = 20

// Task processes one batch item.
type Task[I, T any] func(ctx context.Context, item I) (T, error)

// Pool bounds how many tasks of one batch run at once.
type Pool struct {
	maxWorkers int
	logger     *zap.Logger
}

// NewPool builds a Pool. Non-positive maxWorkers selects DefaultMaxWorkers.
func NewPool(maxWorkers int, logger *zap.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{maxWorkers: maxWorkers, logger: logger}
}

// MaxWorkers returns the pool's concurrency cap.
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

type batchStats struct {
	mu       sync.Mutex
	ok       int
	failed   int
	panicked int
}

func (s *batchStats) add(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case metrics.OutcomeSuccess:
		s.ok++
	case metrics.OutcomePanic:
		s.panicked++
	default:
		s.failed++
	}
}

// Run executes task for every item with at most min(MaxWorkers, len(items))
// running at once and returns the results of the tasks that succeeded, in
// completion order. A task that errors or panics is logged and contributes
// nothing; it never stops its siblings. Once ctx is done no further items are
// started, and tasks already running finish.
func Run[I, T any](ctx context.Context, p *Pool, batch string, items []I, task Task[I, T]) []T {
	if len(items) == 0 {
		return nil
	}
	workers := min(p.maxWorkers, len(items))
	start := time.Now()

	type job struct {
		idx  int
		item I
	}
	jobs := make(chan job)
	done := make(chan T, workers)
	stats := &batchStats{}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				result, outcome := runTask(ctx, p.logger, batch, j.idx, j.item, task)
				stats.add(outcome)
				if outcome == metrics.OutcomeSuccess {
					done <- result
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, item: item}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	results := make([]T, 0, len(items))
	for result := range done {
		results = append(results, result)
	}

	p.logger.Info("batch finished",
		zap.String("batch", batch),
		zap.Int("items", len(items)),
		zap.Int("workers", workers),
		zap.Int("succeeded", stats.ok),
		zap.Int("failed", stats.failed),
		zap.Int("panicked", stats.panicked),
		zap.Int("not_started", len(items)-stats.ok-stats.failed-stats.panicked),
		zap.Duration("duration", time.Since(start)),
	)
	return results
}

func runTask[I, T any](
	ctx context.Context,
	logger *zap.Logger,
	batch string,
	idx int,
	item I,
	task Task[I, T],
) (result T, outcome string) {
	metrics.IncInflight(batch)
	defer metrics.DecInflight(batch)
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, outcome = zero, metrics.OutcomePanic
			logger.Error("batch task panicked",
				zap.String("batch", batch),
				zap.Int("task", idx),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
		metrics.ObserveBatchTask(batch, outcome)
	}()

	result, err := task(ctx, item)
	if err != nil {
		logger.Error("batch task failed",
			zap.String("batch", batch),
			zap.Int("task", idx),
			zap.Error(err),
		)
		var zero T
		return zero, metrics.OutcomeFailure
	}
	return result, metrics.OutcomeSuccess
}
