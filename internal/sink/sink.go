// Package sink holds what the record sinks share: the tabular row layout,
// nil-record filtering and fan-out to several sinks.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Columns is the header row of every tabular sink.
var Columns = []string{
	"source_url",
	"name",
	"street",
	"city",
	"state",
	"zip_code",
	"phone",
	"email",
	"website",
	"categories",
}

// CategorySeparator joins a record's categories into one cell.
const CategorySeparator = "|"

// Row renders rec in Columns order. Unset fields become empty cells.
func Row(rec *crawler.Record) []string {
	return []string{
		rec.SourceURL,
		deref(rec.Name),
		deref(rec.Street),
		deref(rec.City),
		deref(rec.State),
		deref(rec.ZipCode),
		deref(rec.Phone),
		deref(rec.Email),
		deref(rec.Website),
		strings.Join(rec.Categories, CategorySeparator),
	}
}

// EncodeCSV renders records as CSV, preceded by the header when withHeader is set.
func EncodeCSV(records []*crawler.Record, withHeader bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if withHeader {
		if err := w.Write(Columns); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, rec := range records {
		if err := w.Write(Row(rec)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// NonNil drops nil records, logging a warning for each one.
func NonNil(records []*crawler.Record, name string, logger *zap.Logger) []*crawler.Record {
	out := make([]*crawler.Record, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if rec == nil {
			skipped++
			logger.Warn("skipping nil record", zap.String("sink", name))
			continue
		}
		out = append(out, rec)
	}
	metrics.ObserveSink(name, metrics.OutcomeSkipped, skipped)
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Named is a sink that reports its own name.
type Named struct {
	Name string
	crawler.RecordSink
}

// Multi writes every batch to each of its sinks in turn.
type Multi struct {
	sinks  []Named
	logger *zap.Logger
}

// NewMulti builds a Multi.
func NewMulti(logger *zap.Logger, sinks ...Named) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{sinks: sinks, logger: logger}
}

// Write hands records to every sink. A failing sink does not stop the
// others; the result is the smallest count any sink wrote and the joined
// errors.
func (m *Multi) Write(ctx context.Context, records []*crawler.Record) (int, error) {
	if len(m.sinks) == 0 {
		return 0, nil
	}
	written := -1
	var errs []error
	for _, s := range m.sinks {
		n, err := s.Write(ctx, records)
		if err != nil {
			metrics.ObserveSink(s.Name, metrics.OutcomeFailure, len(records)-n)
			m.logger.Error("sink write failed", zap.String("sink", s.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		} else {
			metrics.ObserveSink(s.Name, metrics.OutcomeSuccess, n)
			m.logger.Info("records written", zap.String("sink", s.Name), zap.Int("count", n))
		}
		if written < 0 || n < written {
			written = n
		}
	}
	return written, errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
