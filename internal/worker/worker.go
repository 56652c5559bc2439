// Package worker runs queued crawl jobs through the pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single crawl. Zero means no limit.
	JobTimeout time.Duration
}

// Worker consumes queue items and executes crawls.
type Worker struct {
	queue    crawler.Queue
	jobStore crawler.JobStore
	runner   crawler.Runner
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	runner crawler.Runner,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			// A closed queue returns immediately; avoid spinning.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	// Status writes must land even while shutting down.
	storeCtx := context.WithoutCancel(ctx)

	if err := w.jobStore.UpdateJobStatus(storeCtx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}
	logger.Info("job started",
		zap.String("city", item.Request.City),
		zap.String("state", item.Request.State),
		zap.Strings("categories", item.Request.Categories),
	)

	runCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	summary, err := w.runner.Run(runCtx, item.Request)
	status, errText := deriveFinalStatus(err)
	counters := crawler.CountersFromSummary(summary)

	if err := w.jobStore.UpdateJobStatus(storeCtx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("discovered", counters.Discovered),
		zap.Int("enriched", counters.Enriched),
		zap.Int("written", counters.Written),
		zap.Duration("duration", summary.Duration),
	)
}

// deriveFinalStatus maps a run error to a terminal status. Page-level
// failures never reach here, so a run with no error succeeded even if it
// produced nothing.
func deriveFinalStatus(err error) (crawler.JobStatus, string) {
	switch {
	case err == nil:
		return crawler.JobStatusSucceeded, ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return crawler.JobStatusCanceled, err.Error()
	default:
		return crawler.JobStatusFailed, err.Error()
	}
}
