// Package scraperapi implements crawler.Fetcher through a paid fetch proxy
// using a gocolly collector.
package scraperapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// DefaultEndpoint is the public proxy endpoint.
const DefaultEndpoint = "https://api.scraperapi.com/"

// Config controls proxy request construction and collector behavior.
type Config struct {
	Endpoint  string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// Waiter paces outbound requests.
type Waiter interface {
	Wait(ctx context.Context, target string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	endpoint      *url.URL
	limiter       Waiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.APIKey == "" {
		return nil, errors.New("scraperapi: api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 70 * time.Second
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Clones share visited-URL storage, and retries revisit the same URL.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		endpoint:      endpoint,
		limiter:       limiter,
		logger:        logger,
		baseCollector: c,
	}, nil
}

// Fetch issues one proxied GET for target and returns the response body.
// Failures are returned as *crawler.TransportError and are not logged here.
func (f *Fetcher) Fetch(ctx context.Context, target string, mode crawler.FetchMode) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return "", &crawler.TransportError{URL: target, Err: err}
		}
	}

	f.logger.Info("fetch started",
		zap.String("url", target),
		zap.Bool("premium", mode.Premium),
		zap.Bool("render", mode.Render),
	)
	start := time.Now()

	result, err := f.visit(ctx, f.requestURL(target, mode))
	if err != nil {
		err = &crawler.TransportError{URL: target, StatusCode: result.status, Err: err}
	}
	metrics.ObserveFetch(target, mode.Premium, mode.Render, err, len(result.body), time.Since(start))
	if err != nil {
		return "", err
	}

	f.logger.Info("fetch succeeded",
		zap.String("url", target),
		zap.Bool("premium", mode.Premium),
		zap.Bool("render", mode.Render),
		zap.Int("status", result.status),
		zap.Int("bytes", len(result.body)),
	)
	return string(result.body), nil
}

// requestURL embeds the credential, target and mode flags in the proxy query.
func (f *Fetcher) requestURL(target string, mode crawler.FetchMode) string {
	u := *f.endpoint
	q := u.Query()
	q.Set("api_key", f.cfg.APIKey)
	q.Set("url", target)
	if mode.Render {
		q.Set("render", "true")
	}
	if mode.Premium {
		q.Set("premium", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) buildCollector(result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	configureCollectorHooks(collector, result)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

// visit runs the collector on its own goroutine. On cancellation the
// in-flight request is abandoned and its result discarded.
func (f *Fetcher) visit(ctx context.Context, requestURL string) (fetchResult, error) {
	done := make(chan fetchResult, 1)
	go func() {
		var result fetchResult
		collector := f.buildCollector(&result)
		if err := collector.Visit(requestURL); err != nil && result.err == nil {
			result.err = err
		}
		done <- result
	}()

	select {
	case <-ctx.Done():
		return fetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case result := <-done:
		if result.err != nil {
			return result, statusError(result.status, result.err)
		}
		if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
			return result, statusError(result.status, errors.New("unexpected status"))
		}
		return result, nil
	}
}

func statusError(status int, err error) error {
	if status == 0 {
		return fmt.Errorf("request failed: %w", err)
	}
	return fmt.Errorf("upstream status %d: %w", status, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
