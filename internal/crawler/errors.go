package crawler

import (
	"errors"
	"fmt"
)

// ErrRetryExhausted marks a unit of work that failed on every allowed attempt.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// TransportError reports a network failure or a non-2xx upstream response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a page whose structure is too broken to parse at
// all. A single missing field is not an ExtractionError.
type ExtractionError struct {
	URL    string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// ErrJobNotFound is returned by job stores for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueFull is returned when a queue cannot take another job.
var ErrQueueFull = errors.New("job queue is full")
