// Package pipeline composes discovery, enrichment and the record sinks into
// the two batch entry points and a full crawl run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
)

// Batch names used in logs and metrics.
const (
	BatchDiscover = "discover"
	BatchEnrich   = "enrich"
)

// Discoverer finds bare records for one category.
type Discoverer interface {
	Discover(ctx context.Context, city, state, category string) ([]*crawler.Record, error)
}

// Enricher fills one record, returning nil on failure.
type Enricher interface {
	Enrich(ctx context.Context, rec *crawler.Record) *crawler.Record
}

// Pipeline runs crawls. It implements crawler.Runner.
type Pipeline struct {
	discoverer Discoverer
	enricher   Enricher
	sink       crawler.RecordSink
	pool       *dispatcher.Pool
	logger     *zap.Logger
	now        func() time.Time
}

// New wires a Pipeline.
func New(
	discoverer Discoverer,
	enricher Enricher,
	sink crawler.RecordSink,
	pool *dispatcher.Pool,
	logger *zap.Logger,
) (*Pipeline, error) {
	if discoverer == nil || enricher == nil || sink == nil {
		return nil, errors.New("pipeline: discoverer, enricher and sink are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = dispatcher.NewPool(dispatcher.DefaultMaxWorkers, logger)
	}
	return &Pipeline{
		discoverer: discoverer,
		enricher:   enricher,
		sink:       sink,
		pool:       pool,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// DiscoverAll runs discovery for every category concurrently and merges the
// results, keeping one record per source URL. A failing category contributes
// nothing.
func (p *Pipeline) DiscoverAll(ctx context.Context, city, state string, categories []string) []*crawler.Record {
	sets := dispatcher.Run(ctx, p.pool, BatchDiscover, categories,
		func(ctx context.Context, category string) ([]*crawler.Record, error) {
			return p.discoverer.Discover(ctx, city, state, category)
		})

	seen := make(map[string]struct{})
	var records []*crawler.Record
	for _, set := range sets {
		for _, rec := range set {
			if rec == nil {
				continue
			}
			if _, dup := seen[rec.SourceURL]; dup {
				continue
			}
			seen[rec.SourceURL] = struct{}{}
			records = append(records, rec)
		}
	}
	return records
}

// ErrEnrichmentDropped marks a record whose enrichment produced nothing. The
// pool counts it as a failed task.
var ErrEnrichmentDropped = errors.New("enrichment dropped")

func sourceURL(rec *crawler.Record) string {
	if rec == nil {
		return "<nil record>"
	}
	return rec.SourceURL
}

// EnrichAll enriches every record concurrently and returns the ones that
// succeeded, in completion order. Records whose enrichment failed are dropped.
func (p *Pipeline) EnrichAll(ctx context.Context, records []*crawler.Record) []*crawler.Record {
	enriched := dispatcher.Run(ctx, p.pool, BatchEnrich, records,
		func(ctx context.Context, rec *crawler.Record) (*crawler.Record, error) {
			enriched := p.enricher.Enrich(ctx, rec)
			if enriched == nil {
				return nil, fmt.Errorf("%w: %s", ErrEnrichmentDropped, sourceURL(rec))
			}
			return enriched, nil
		})

	out := make([]*crawler.Record, 0, len(enriched))
	for _, rec := range enriched {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Run performs discovery, enrichment and a sink write for req. Failures of
// individual pages never fail the run; sink errors are logged. The returned
// error is non-nil only for an invalid request or a canceled context.
func (p *Pipeline) Run(ctx context.Context, req crawler.CrawlRequest) (crawler.RunSummary, error) {
	if err := validateRequest(req); err != nil {
		return crawler.RunSummary{}, err
	}
	start := p.now()
	summary := crawler.RunSummary{Categories: len(req.Categories)}

	discovered := p.DiscoverAll(ctx, req.City, req.State, req.Categories)
	summary.Discovered = len(discovered)
	p.logger.Info("discovery complete",
		zap.String("city", req.City),
		zap.String("state", req.State),
		zap.Int("categories", summary.Categories),
		zap.Int("records", summary.Discovered),
	)

	enriched := p.EnrichAll(ctx, discovered)
	summary.Enriched = len(enriched)
	p.logger.Info("enrichment complete",
		zap.Int("records", summary.Enriched),
		zap.Int("dropped", summary.Discovered-summary.Enriched),
	)

	if len(enriched) > 0 {
		// Enriched records are kept even when the crawl is being canceled.
		written, err := p.sink.Write(context.WithoutCancel(ctx), enriched)
		summary.Written = written
		if err != nil {
			p.logger.Error("sink write failed", zap.Int("written", written), zap.Error(err))
		}
	}

	summary.Duration = p.now().Sub(start)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	p.logger.Info("crawl finished",
		zap.Int("discovered", summary.Discovered),
		zap.Int("enriched", summary.Enriched),
		zap.Int("written", summary.Written),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func validateRequest(req crawler.CrawlRequest) error {
	if strings.TrimSpace(req.City) == "" || strings.TrimSpace(req.State) == "" {
		return errors.New("city and state are required")
	}
	if len(req.Categories) == 0 {
		return errors.New("at least one category is required")
	}
	for _, c := range req.Categories {
		if strings.TrimSpace(c) == "" {
			return errors.New("categories must not be blank")
		}
	}
	return nil
}
