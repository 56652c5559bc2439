// Package server builds the crawler's dependency graph and runs it either as
// a one-shot crawl or as the long-lived job service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/discovery"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
	"github.com/JakeFAU/listing-crawler/internal/enrich"
	headlessfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/scraperapi"
	"github.com/JakeFAU/listing-crawler/internal/pipeline"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/listing-crawler/internal/queue/memory"
	"github.com/JakeFAU/listing-crawler/internal/retry"
	"github.com/JakeFAU/listing-crawler/internal/sink"
	gcssink "github.com/JakeFAU/listing-crawler/internal/sink/gcs"
	"github.com/JakeFAU/listing-crawler/internal/sink/local"
	memorysink "github.com/JakeFAU/listing-crawler/internal/sink/memory"
	pgsink "github.com/JakeFAU/listing-crawler/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/listing-crawler/internal/sink/pubsub"
	memoryStorage "github.com/JakeFAU/listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/listing-crawler/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	fetcher      crawler.Fetcher
	closeFetcher func()
	sink         *sink.Multi
	pipeline     *pipeline.Pipeline
	queue        *queueMemory.Queue
	jobStore     *memoryStorage.JobStore
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server

	shutdownTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. Sinks that hold network
// clients are opened here, so a partially built App is closed before an error
// is returned.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger, shutdownTimeout: defaultShutdownTimeout}
	defer func() {
		if err != nil {
			if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed build", zap.Error(cerr))
			}
			app = nil
		}
	}()

	app.logger.Info("building application dependencies",
		zap.String("transport", cfg.Fetch.Transport),
		zap.Strings("sinks", cfg.Sink.Outputs),
	)

	if err = app.setupFetcher(); err != nil {
		return app, err
	}
	if err = app.setupSinks(ctx); err != nil {
		return app, err
	}
	if err = app.setupPipeline(); err != nil {
		return app, err
	}
	app.setupJobs()
	return app, nil
}

func (a *App) setupFetcher() error {
	switch a.cfg.Fetch.Transport {
	case config.TransportHeadless:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		}, a.logger.Named("headless"))
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.fetcher, a.closeFetcher = f, f.Close
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	default:
		var limiter scraperapi.Waiter
		if a.cfg.Fetch.RateLimitRPS > 0 {
			limiter = ratelimit.New(ratelimit.Config{
				RPS:   a.cfg.Fetch.RateLimitRPS,
				Burst: a.cfg.Fetch.RateLimitBurst,
			})
			a.logger.Info("rate limiter enabled",
				zap.Float64("rps", a.cfg.Fetch.RateLimitRPS),
				zap.Int("burst", a.cfg.Fetch.RateLimitBurst),
			)
		}
		f, err := scraperapi.New(scraperapi.Config{
			Endpoint:  a.cfg.Fetch.Endpoint,
			APIKey:    a.cfg.Fetch.APIKey,
			UserAgent: a.cfg.Fetch.UserAgent,
			Timeout:   a.cfg.Fetch.Timeout(),
		}, limiter, a.logger.Named("fetch"))
		if err != nil {
			return fmt.Errorf("scraperapi fetcher init failed: %w", err)
		}
		a.fetcher = f
		a.logger.Info("using scraperapi fetcher", zap.Duration("timeout", a.cfg.Fetch.Timeout()))
	}
	return nil
}

//nolint:gocognit // one branch per sink kind
func (a *App) setupSinks(ctx context.Context) error {
	var sinks []sink.Named
	defer func() {
		a.sink = sink.NewMulti(a.logger.Named("sink"), sinks...)
	}()

	for _, kind := range a.cfg.Sink.Outputs {
		var s crawler.RecordSink
		switch kind {
		case config.SinkCSV:
			csvSink, err := local.New(local.Config{Path: a.cfg.Sink.CSV.Path}, a.logger.Named("csv"))
			if err != nil {
				return fmt.Errorf("csv sink init failed: %w", err)
			}
			s = csvSink
		case config.SinkPostgres:
			pg, err := pgsink.New(ctx, pgsink.Config{
				DSN:      a.cfg.Sink.Postgres.DSN,
				Table:    a.cfg.Sink.Postgres.Table,
				MaxConns: a.cfg.Sink.Postgres.MaxConns,
			}, a.logger.Named("postgres"))
			if err != nil {
				return fmt.Errorf("postgres sink init failed: %w", err)
			}
			sinks = append(sinks, sink.Named{Name: kind, RecordSink: pg})
			if err := pg.EnsureTable(ctx); err != nil {
				return fmt.Errorf("postgres sink init failed: %w", err)
			}
			continue
		case config.SinkGCS:
			client, err := storage.NewClient(ctx)
			if err != nil {
				return fmt.Errorf("gcs client init failed: %w", err)
			}
			gs, err := gcssink.New(client, gcssink.Config{
				Bucket: a.cfg.Sink.GCS.Bucket,
				Prefix: a.cfg.Sink.GCS.Prefix,
			}, a.logger.Named("gcs"))
			if err != nil {
				_ = client.Close()
				return fmt.Errorf("gcs sink init failed: %w", err)
			}
			s = gs
		case config.SinkPubSub:
			ps, err := pubsubsink.New(ctx, pubsubsink.Config{
				ProjectID: a.cfg.Sink.PubSub.ProjectID,
				TopicID:   a.cfg.Sink.PubSub.TopicID,
			}, a.logger.Named("pubsub"))
			if err != nil {
				return fmt.Errorf("pubsub sink init failed: %w", err)
			}
			s = ps
		case config.SinkMemory:
			s = memorysink.New(a.logger.Named("memory"))
		default:
			return fmt.Errorf("unknown sink %q", kind)
		}
		sinks = append(sinks, sink.Named{Name: kind, RecordSink: s})
		a.logger.Info("sink enabled", zap.String("sink", kind))
	}
	return nil
}

func (a *App) setupPipeline() error {
	retrier, err := retry.New(retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		Delay:       a.cfg.Retry.Delay,
		Escalate:    true,
	}, a.logger.Named("retry"))
	if err != nil {
		return fmt.Errorf("retry init failed: %w", err)
	}
	disc, err := discovery.New(discovery.Config{
		URLTemplate: a.cfg.Discovery.ListingURLTemplate,
		LinkMarker:  a.cfg.Discovery.LinkMarker,
	}, a.fetcher, retrier, a.logger.Named("discovery"))
	if err != nil {
		return fmt.Errorf("discovery init failed: %w", err)
	}
	enricher, err := enrich.New(a.fetcher, retrier, a.logger.Named("enrich"))
	if err != nil {
		return fmt.Errorf("enrich init failed: %w", err)
	}
	pool := dispatcher.NewPool(a.cfg.Dispatch.MaxWorkers, a.logger.Named("dispatcher"))
	a.pipeline, err = pipeline.New(disc, enricher, a.sink, pool, a.logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	a.logger.Info("pipeline ready",
		zap.Int("max_workers", pool.MaxWorkers()),
		zap.Int("max_attempts", a.cfg.Retry.MaxAttempts),
		zap.Duration("retry_delay", a.cfg.Retry.Delay),
	)
	return nil
}

func (a *App) setupJobs() {
	a.jobStore = memoryStorage.NewJobStore()
	a.queue = queueMemory.NewQueue(a.cfg.Jobs.QueueDepth)

	workers := make([]dispatcher.Looper, 0, a.cfg.Jobs.Workers)
	for i := 0; i < a.cfg.Jobs.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.jobStore,
			a.pipeline,
			worker.Config{},
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	a.apiServer = api.NewServer(a.jobStore, a.dispatch, api.Config{
		AuthEnabled: a.cfg.Auth.Enabled,
		APIKey:      a.cfg.Auth.APIKey,
	}, a.logger.Named("api"))
}

// Crawl runs one crawl synchronously.
func (a *App) Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.RunSummary, error) {
	summary, err := a.pipeline.Run(ctx, req)
	if err != nil {
		return summary, fmt.Errorf("crawl %s, %s: %w", req.City, req.State, err)
	}
	return summary, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve starts the job workers and HTTP server and blocks until ctx is
// canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// Workers finish their current job, including its sink write, before the
	// sinks are closed underneath them.
	select {
	case <-drained:
		a.logger.Info("job workers drained")
	case <-shutdownCtx.Done():
		a.logger.Warn("job workers still running at shutdown deadline", zap.Duration("timeout", a.shutdownTimeout))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer closeCancel()

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), a.Close(closeCtx))
	default:
		return a.Close(closeCtx)
	}
}

// Close releases the queue, sinks and fetcher. It is safe on a partially
// built App and only the first call does any work.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close(ctx)
	})
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.logger.Warn("sink close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.closeFetcher != nil {
		a.closeFetcher()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
