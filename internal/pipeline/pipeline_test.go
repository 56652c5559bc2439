package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
)

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, city, state, category string) ([]*crawler.Record, error) {
	args := m.Called(ctx, city, state, category)
	records, _ := args.Get(0).([]*crawler.Record)
	return records, args.Error(1)
}

// fakeEnricher fails for URLs listed in fail and names every other record.
type fakeEnricher struct {
	fail map[string]bool
}

func (f *fakeEnricher) Enrich(_ context.Context, rec *crawler.Record) *crawler.Record {
	if f.fail[rec.SourceURL] {
		return nil
	}
	name := "business " + rec.SourceURL
	rec.Apply(crawler.Details{Name: &name})
	return rec
}

type captureSink struct {
	mu      sync.Mutex
	records []*crawler.Record
	err     error
}

func (s *captureSink) Write(_ context.Context, records []*crawler.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.records = append(s.records, records...)
	return len(records), nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func bare(urls ...string) []*crawler.Record {
	out := make([]*crawler.Record, 0, len(urls))
	for _, u := range urls {
		out = append(out, crawler.NewRecord(u))
	}
	return out
}

func newPipeline(t *testing.T, d Discoverer, e Enricher, sink crawler.RecordSink) *Pipeline {
	t.Helper()
	p, err := New(d, e, sink, dispatcher.NewPool(20, nil), nil)
	require.NoError(t, err)
	return p
}

func TestDiscoverAllDedupesAcrossCategories(t *testing.T) {
	t.Parallel()

	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, "anchorage", "ak", "general-contractor").
		Return(bare("https://nextdoor.com/pages/a/", "https://nextdoor.com/pages/b/"), nil)
	d.On("Discover", mock.Anything, "anchorage", "ak", "remodeling").
		Return(bare("https://nextdoor.com/pages/b/", "https://nextdoor.com/pages/c/"), nil)
	d.On("Discover", mock.Anything, "anchorage", "ak", "plumber").
		Return(nil, errors.New("bad category"))

	p := newPipeline(t, d, &fakeEnricher{}, &captureSink{})
	records := p.DiscoverAll(context.Background(), "anchorage", "ak",
		[]string{"general-contractor", "remodeling", "plumber"})

	urls := make([]string, 0, len(records))
	for _, rec := range records {
		require.True(t, rec.IsBare())
		urls = append(urls, rec.SourceURL)
	}
	require.ElementsMatch(t, []string{
		"https://nextdoor.com/pages/a/",
		"https://nextdoor.com/pages/b/",
		"https://nextdoor.com/pages/c/",
	}, urls)
	d.AssertNumberOfCalls(t, "Discover", 3)
}

func TestDiscoverAllSameLinksForEveryCategory(t *testing.T) {
	t.Parallel()

	const unique = 7
	links := make([]string, 0, unique)
	for i := range unique {
		links = append(links, fmt.Sprintf("https://nextdoor.com/pages/%d/", i))
	}
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, "anchorage", "ak", mock.Anything).
		Return(bare(links...), nil)

	p := newPipeline(t, d, &fakeEnricher{}, &captureSink{})
	for _, n := range []int{1, 2, 5} {
		categories := make([]string, n)
		for i := range categories {
			categories[i] = fmt.Sprintf("category-%d", i)
		}
		require.Len(t, p.DiscoverAll(context.Background(), "anchorage", "ak", categories), unique)
	}
}

func TestDiscoverAllNoCategories(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, &mockDiscoverer{}, &fakeEnricher{}, &captureSink{})
	require.Empty(t, p.DiscoverAll(context.Background(), "anchorage", "ak", nil))
}

func TestEnrichAllDropsFailedEnrichments(t *testing.T) {
	t.Parallel()

	e := &fakeEnricher{fail: map[string]bool{"https://nextdoor.com/pages/3/": true}}
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	p, err := New(&mockDiscoverer{}, e, &captureSink{}, dispatcher.NewPool(20, logger), logger)
	require.NoError(t, err)

	records := bare(
		"https://nextdoor.com/pages/1/",
		"https://nextdoor.com/pages/2/",
		"https://nextdoor.com/pages/3/",
		"https://nextdoor.com/pages/4/",
		"https://nextdoor.com/pages/5/",
	)
	got := p.EnrichAll(context.Background(), records)

	require.Len(t, got, 4)
	for _, rec := range got {
		require.NotEqual(t, "https://nextdoor.com/pages/3/", rec.SourceURL)
		require.NotNil(t, rec.Name)
	}

	finished := logs.FilterMessage("batch finished").AllUntimed()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	require.EqualValues(t, 4, fields["succeeded"])
	require.EqualValues(t, 1, fields["failed"])

	failed := logs.FilterMessage("batch task failed").AllUntimed()
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].ContextMap()["error"], "https://nextdoor.com/pages/3/")
}

func TestEnrichAllEmpty(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, &mockDiscoverer{}, &fakeEnricher{}, &captureSink{})
	require.Empty(t, p.EnrichAll(context.Background(), nil))
}

func TestRunWritesEnrichedRecords(t *testing.T) {
	t.Parallel()

	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, "anchorage", "ak", "general-contractor").
		Return(bare("https://nextdoor.com/pages/a/", "https://nextdoor.com/pages/b/"), nil)
	e := &fakeEnricher{fail: map[string]bool{"https://nextdoor.com/pages/b/": true}}
	sink := &captureSink{}
	p := newPipeline(t, d, e, sink)

	summary, err := p.Run(context.Background(), crawler.CrawlRequest{
		City: "anchorage", State: "ak", Categories: []string{"general-contractor"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Categories)
	require.Equal(t, 2, summary.Discovered)
	require.Equal(t, 1, summary.Enriched)
	require.Equal(t, 1, summary.Written)
	require.Len(t, sink.records, 1)
	require.Equal(t, "https://nextdoor.com/pages/a/", sink.records[0].SourceURL)
}

func TestRunSinkErrorDoesNotFailRun(t *testing.T) {
	t.Parallel()

	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, "anchorage", "ak", "plumber").
		Return(bare("https://nextdoor.com/pages/a/"), nil)
	p := newPipeline(t, d, &fakeEnricher{}, &captureSink{err: errors.New("disk full")})

	summary, err := p.Run(context.Background(), crawler.CrawlRequest{
		City: "anchorage", State: "ak", Categories: []string{"plumber"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Enriched)
	require.Zero(t, summary.Written)
}

func TestRunAllCategoriesFail(t *testing.T) {
	t.Parallel()

	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("boom"))
	sink := &captureSink{}
	p := newPipeline(t, d, &fakeEnricher{}, sink)

	summary, err := p.Run(context.Background(), crawler.CrawlRequest{
		City: "anchorage", State: "ak", Categories: []string{"a", "b"},
	})
	require.NoError(t, err)
	require.Zero(t, summary.Discovered)
	require.Empty(t, sink.records)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, &mockDiscoverer{}, &fakeEnricher{}, &captureSink{})
	for _, req := range []crawler.CrawlRequest{
		{State: "ak", Categories: []string{"a"}},
		{City: "anchorage", Categories: []string{"a"}},
		{City: "anchorage", State: "ak"},
		{City: "anchorage", State: "ak", Categories: []string{" "}},
	} {
		_, err := p.Run(context.Background(), req)
		require.Error(t, err)
	}
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(t, &mockDiscoverer{}, &fakeEnricher{}, &captureSink{})

	_, err := p.Run(ctx, crawler.CrawlRequest{City: "anchorage", State: "ak", Categories: []string{"a"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeEnricher{}, &captureSink{}, nil, nil)
	require.Error(t, err)
}
