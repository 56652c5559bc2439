package crawler

import "context"

// Fetcher issues a single outbound request for url and returns the body.
// Failures are reported as errors and never logged by the implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mode FetchMode) (string, error)
}

// RecordSink persists records. Implementations skip nil records.
type RecordSink interface {
	Write(ctx context.Context, records []*Record) (int, error)
	Close(ctx context.Context) error
}

// JobStore persists crawl job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Runner executes one full crawl.
type Runner interface {
	Run(ctx context.Context, req CrawlRequest) (RunSummary, error)
}
