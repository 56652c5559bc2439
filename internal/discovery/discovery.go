// Package discovery finds business detail URLs on category listing pages.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/parse"
	"github.com/JakeFAU/listing-crawler/internal/retry"
)

// Operation names the discovery fetch in logs and metrics.
const Operation = "discover"

// DefaultLinkMarker selects detail-page links on a listing page.
const DefaultLinkMarker = "/pages/"

// Config controls listing URL composition and link selection.
type Config struct {
	URLTemplate string
	LinkMarker  string
}

// Discoverer turns a (city, state, category) triple into bare records.
type Discoverer struct {
	cfg     Config
	fetcher crawler.Fetcher
	retrier *retry.Retrier
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(cfg Config, fetcher crawler.Fetcher, retrier *retry.Retrier, logger *zap.Logger) (*Discoverer, error) {
	if cfg.URLTemplate == "" {
		return nil, errors.New("discovery: url template is required")
	}
	if cfg.LinkMarker == "" {
		cfg.LinkMarker = DefaultLinkMarker
	}
	if fetcher == nil || retrier == nil {
		return nil, errors.New("discovery: fetcher and retrier are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, fetcher: fetcher, retrier: retrier, logger: logger}, nil
}

// Discover fetches the listing page for the triple and returns one bare
// record per unique detail link. Zero links and exhausted retries both yield
// an empty slice; only an unbuildable listing URL is an error.
func (d *Discoverer) Discover(ctx context.Context, city, state, category string) ([]*crawler.Record, error) {
	listingURL, err := crawler.ListingURL(d.cfg.URLTemplate, city, state, category)
	if err != nil {
		return nil, fmt.Errorf("build listing url: %w", err)
	}

	links := retry.RunOr(ctx, d.retrier, Operation, crawler.FetchMode{Render: false}, nil,
		func(ctx context.Context, mode crawler.FetchMode) ([]string, error) {
			html, err := d.fetcher.Fetch(ctx, listingURL, mode)
			if err != nil {
				return nil, err
			}
			return parse.ListingLinks(html, listingURL, d.cfg.LinkMarker)
		},
		zap.String("category", category),
		zap.String("city", city),
		zap.String("state", state),
	)

	records := make([]*crawler.Record, 0, len(links))
	for _, link := range links {
		records = append(records, crawler.NewRecord(link))
	}
	d.logger.Info("listing discovered",
		zap.String("category", category),
		zap.String("url", listingURL),
		zap.Int("links", len(records)),
	)
	return records, nil
}
