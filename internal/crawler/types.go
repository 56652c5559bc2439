package crawler

import (
	"slices"
	"time"
)

// Record is a business listing. SourceURL is its identity; every other field
// stays unset until a detail enrichment succeeds.
type Record struct {
	SourceURL  string   `json:"source_url"`
	Name       *string  `json:"name,omitempty"`
	Street     *string  `json:"street,omitempty"`
	City       *string  `json:"city,omitempty"`
	State      *string  `json:"state,omitempty"`
	ZipCode    *string  `json:"zip_code,omitempty"`
	Phone      *string  `json:"phone,omitempty"`
	Email      *string  `json:"email,omitempty"`
	Website    *string  `json:"website,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// NewRecord returns a bare record for sourceURL.
func NewRecord(sourceURL string) *Record {
	return &Record{SourceURL: sourceURL}
}

// Details holds the attributes extracted from a detail page. A nil field means
// the page did not carry it.
type Details struct {
	Name       *string
	Street     *string
	City       *string
	State      *string
	ZipCode    *string
	Phone      *string
	Email      *string
	Website    *string
	Categories []string
}

// Apply overwrites every optional field with d. Fields absent from d become
// unset; nothing from a previous enrichment survives.
func (r *Record) Apply(d Details) {
	r.Name = cloneString(d.Name)
	r.Street = cloneString(d.Street)
	r.City = cloneString(d.City)
	r.State = cloneString(d.State)
	r.ZipCode = cloneString(d.ZipCode)
	r.Phone = cloneString(d.Phone)
	r.Email = cloneString(d.Email)
	r.Website = cloneString(d.Website)
	r.Categories = slices.Clone(d.Categories)
}

// IsBare reports whether only SourceURL is set.
func (r *Record) IsBare() bool {
	return r.Name == nil && r.Street == nil && r.City == nil && r.State == nil &&
		r.ZipCode == nil && r.Phone == nil && r.Email == nil && r.Website == nil &&
		r.Categories == nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// FetchMode selects how the upstream proxy should fetch a page. Render is
// fixed per call site; Premium only ever moves from false to true.
type FetchMode struct {
	Render  bool
	Premium bool
}

// Escalate switches the mode to premium. It reports whether the mode changed.
func (m *FetchMode) Escalate() bool {
	if m.Premium {
		return false
	}
	m.Premium = true
	return true
}

// CrawlRequest identifies one two-phase crawl.
type CrawlRequest struct {
	City       string   `json:"city"`
	State      string   `json:"state"`
	Categories []string `json:"categories"`
}

// RunSummary reports what one pipeline run produced.
type RunSummary struct {
	Categories int           `json:"categories"`
	Discovered int           `json:"discovered"`
	Enriched   int           `json:"enriched"`
	Written    int           `json:"written"`
	Duration   time.Duration `json:"duration"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions follow status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobCounters tracks per-job record counts.
type JobCounters struct {
	Discovered int `json:"discovered"`
	Enriched   int `json:"enriched"`
	Written    int `json:"written"`
}

// CountersFromSummary converts a run summary into job counters.
func CountersFromSummary(s RunSummary) JobCounters {
	return JobCounters{
		Discovered: s.Discovered,
		Enriched:   s.Enriched,
		Written:    s.Written,
	}
}

// Job is the metadata kept for each submitted crawl.
type Job struct {
	ID        string       `json:"id"`
	Status    JobStatus    `json:"status"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	Request   CrawlRequest `json:"request"`
	Counters  JobCounters  `json:"counters"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   CrawlRequest
	Submitted int64
}
