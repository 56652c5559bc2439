// Package enrich fills bare records from their detail pages.
package enrich

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/parse"
	"github.com/JakeFAU/listing-crawler/internal/retry"
)

// Operation names the enrichment fetch in logs and metrics.
const Operation = "enrich"

// Enricher fetches and parses detail pages.
type Enricher struct {
	fetcher crawler.Fetcher
	retrier *retry.Retrier
	logger  *zap.Logger
}

// New builds an Enricher.
func New(fetcher crawler.Fetcher, retrier *retry.Retrier, logger *zap.Logger) (*Enricher, error) {
	if fetcher == nil || retrier == nil {
		return nil, errors.New("enrich: fetcher and retrier are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{fetcher: fetcher, retrier: retrier, logger: logger}, nil
}

// Enrich fetches rec.SourceURL in render mode and overwrites rec's fields
// with what the page carries. It returns rec itself on success and nil once
// retries are exhausted; rec is left untouched in that case.
func (e *Enricher) Enrich(ctx context.Context, rec *crawler.Record) *crawler.Record {
	if rec == nil {
		return nil
	}
	details, err := retry.Run(ctx, e.retrier, Operation, crawler.FetchMode{Render: true},
		func(ctx context.Context, mode crawler.FetchMode) (crawler.Details, error) {
			html, err := e.fetcher.Fetch(ctx, rec.SourceURL, mode)
			if err != nil {
				return crawler.Details{}, err
			}
			return parse.Detail(html, rec.SourceURL)
		},
		zap.String("url", rec.SourceURL),
	)
	if err != nil {
		return nil
	}
	rec.Apply(details)
	e.logger.Debug("record enriched", zap.String("url", rec.SourceURL))
	return rec
}
