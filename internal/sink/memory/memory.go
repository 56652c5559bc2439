// Package memory implements an in-memory record sink for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// Name identifies this sink in logs and metrics.
const Name = "memory"

// Sink keeps every written record.
type Sink struct {
	mu      sync.Mutex
	records []*crawler.Record
	logger  *zap.Logger
}

// New builds an empty Sink.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

// Write appends records, skipping nil entries.
func (s *Sink) Write(_ context.Context, records []*crawler.Record) (int, error) {
	records = sink.NonNil(records, Name, s.logger)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return len(records), nil
}

// Records returns a snapshot of everything written so far.
func (s *Sink) Records() []*crawler.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*crawler.Record(nil), s.records...)
}

// Close is a no-op.
func (s *Sink) Close(context.Context) error {
	return nil
}
