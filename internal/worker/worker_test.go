package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestWorkerProcessJobSuccess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := crawler.CrawlRequest{City: "anchorage", State: "ak", Categories: []string{"plumber"}}
	queue := &fakeQueue{items: []crawler.QueueItem{{JobID: "job-success", Request: req}}}
	jobStore := newFakeJobStore()
	runner := &fakeRunner{summary: crawler.RunSummary{Categories: 1, Discovered: 3, Enriched: 2, Written: 2}}

	w := New(queue, jobStore, runner, Config{}, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []crawler.JobStatus{crawler.JobStatusRunning, crawler.JobStatusSucceeded}, jobStore.statuses())
	require.Equal(t, crawler.JobCounters{Discovered: 3, Enriched: 2, Written: 2}, jobStore.lastCounters())
	require.Equal(t, []crawler.CrawlRequest{req}, runner.requests())
}

func TestWorkerEmptyRunStillSucceeds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{JobID: "job-empty"}}}
	jobStore := newFakeJobStore()
	w := New(queue, jobStore, &fakeRunner{}, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, crawler.JobCounters{}, jobStore.lastCounters())
}

func TestWorkerRunErrorMarksJobFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{JobID: "job-bad"}}}
	jobStore := newFakeJobStore()
	w := New(queue, jobStore, &fakeRunner{err: errors.New("city and state are required")}, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "city and state are required", jobStore.lastErrText())
}

func TestWorkerTimeoutMarksJobCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{JobID: "job-slow"}}}
	jobStore := newFakeJobStore()
	w := New(queue, jobStore, &fakeRunner{block: true}, Config{JobTimeout: 20 * time.Millisecond}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusCanceled
	}, time.Second, 10*time.Millisecond)
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	status, text := deriveFinalStatus(nil)
	require.Equal(t, crawler.JobStatusSucceeded, status)
	require.Empty(t, text)

	status, _ = deriveFinalStatus(fmt.Errorf("crawl interrupted: %w", context.Canceled))
	require.Equal(t, crawler.JobStatusCanceled, status)

	status, text = deriveFinalStatus(errors.New("boom"))
	require.Equal(t, crawler.JobStatusFailed, status)
	require.Equal(t, "boom", text)
}

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type statusUpdate struct {
	status   crawler.JobStatus
	errText  string
	counters crawler.JobCounters
}

type fakeJobStore struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{}
}

func (s *fakeJobStore) CreateJob(context.Context, crawler.Job) error { return nil }

func (s *fakeJobStore) UpdateJobStatus(
	_ context.Context,
	_ string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, statusUpdate{status: status, errText: errText, counters: counters})
	return nil
}

func (s *fakeJobStore) GetJob(context.Context, string) (crawler.Job, error) {
	return crawler.Job{}, crawler.ErrJobNotFound
}

func (s *fakeJobStore) last() statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return statusUpdate{}
	}
	return s.updates[len(s.updates)-1]
}

func (s *fakeJobStore) lastStatus() crawler.JobStatus     { return s.last().status }
func (s *fakeJobStore) lastErrText() string               { return s.last().errText }
func (s *fakeJobStore) lastCounters() crawler.JobCounters { return s.last().counters }

func (s *fakeJobStore) statuses() []crawler.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.JobStatus, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.status)
	}
	return out
}

type fakeRunner struct {
	mu      sync.Mutex
	summary crawler.RunSummary
	err     error
	block   bool
	seen    []crawler.CrawlRequest
}

func (r *fakeRunner) Run(ctx context.Context, req crawler.CrawlRequest) (crawler.RunSummary, error) {
	r.mu.Lock()
	r.seen = append(r.seen, req)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return crawler.RunSummary{}, fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	return r.summary, r.err
}

func (r *fakeRunner) requests() []crawler.CrawlRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crawler.CrawlRequest(nil), r.seen...)
}
