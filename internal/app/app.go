// Package app wires every component into a runnable service: it is
// the dependency-injection container the binary in cmd/linkauditor
// builds and runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/domainlink/linkauditor/internal/analyser"
	"github.com/domainlink/linkauditor/internal/api"
	clocksystem "github.com/domainlink/linkauditor/internal/clock/system"
	"github.com/domainlink/linkauditor/internal/config"
	"github.com/domainlink/linkauditor/internal/dispatcher"
	iduuid "github.com/domainlink/linkauditor/internal/id/uuid"
	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/logging"
	"github.com/domainlink/linkauditor/internal/notify"
	"github.com/domainlink/linkauditor/internal/notify/sinks"
	"github.com/domainlink/linkauditor/internal/policy/ratelimit"
	queuememory "github.com/domainlink/linkauditor/internal/queue/memory"
	"github.com/domainlink/linkauditor/internal/queue/redisqueue"
	repomemory "github.com/domainlink/linkauditor/internal/repository/memory"
	repopostgres "github.com/domainlink/linkauditor/internal/repository/postgres"
	"github.com/domainlink/linkauditor/internal/scheduler"
	"github.com/domainlink/linkauditor/internal/sheetsadapter"
	"github.com/domainlink/linkauditor/internal/telemetry"
	"github.com/domainlink/linkauditor/internal/worker"
)

// App holds every long-lived service the binary runs, wired by Build.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	httpServer *http.Server
	dispatch   *dispatcher.Dispatcher
	hub        *notify.Hub
	scheduler  *scheduler.Scheduler
	queue      linkaudit.Queue
	redis      *redis.Client
	repo       closer

	tracerShutdown func(context.Context) error
	metricShutdown func(context.Context) error
}

// closer is the subset of repository backends that hold a live
// connection pool worth closing on shutdown.
type closer interface {
	Close()
}

// Run starts the dispatcher, scheduler, and HTTP server, then blocks
// until an interrupt or termination signal arrives, shutting
// everything down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("application started", zap.Int("port", a.cfg.Server.Port))

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			a.logger.Error("scheduler start failed", zap.Error(err))
		}
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close releases every resource Build acquired. Safe to call once
// after Run returns, or directly in tests that never call Run.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("notify hub close failed", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.repo != nil {
		a.repo.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("metric shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}

// hubNotifier forwards Publish calls to a *notify.Hub assigned after
// construction, breaking the cycle between the Scheduler (which needs
// a Notifier) and the Hub (which needs the Scheduler as a Sink).
type hubNotifier struct {
	hub *notify.Hub
}

func (n *hubNotifier) Publish(ctx context.Context, projectID string, kind linkaudit.NotificationKind, payload any) error {
	return n.hub.Publish(ctx, projectID, kind, payload)
}

// Build assembles every component named by the service architecture:
// repository, queue, notifier, scheduler, sheet adapter, analyser,
// worker pool, dispatcher, and HTTP server.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	tp, mp, err := telemetry.InitTelemetry(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tp.Shutdown,
		metricShutdown: mp.Shutdown,
	}

	clock := clocksystem.New()
	idGen := iduuid.New()

	repo, repoCloser, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.repo = repoCloser

	queue, rdb, err := buildQueue(cfg, clock, logger)
	if err != nil {
		return nil, err
	}
	a.queue = queue
	a.redis = rdb

	sseSink := sinks.NewSSESink()
	hubSinks := []notify.Sink{sinks.NewLogSink(logger.Named("notify")), sseSink}
	if promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("prometheus sink init failed, continuing without it", zap.Error(err))
	} else {
		hubSinks = append(hubSinks, promSink)
	}

	if cfg.Notify.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, cfg.Notify.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewPubSubSink(client.Topic(cfg.Notify.PubSub.Topic)))
	}

	var sheetAdapter linkaudit.SheetAdapter
	if cfg.Sheets.CredentialsFile != "" {
		adapter, err := sheetsadapter.New(ctx, option.WithCredentialsFile(cfg.Sheets.CredentialsFile))
		if err != nil {
			return nil, fmt.Errorf("sheets adapter init failed: %w", err)
		}
		sheetAdapter = adapter
	} else {
		logger.Warn("no sheets credentials configured, recurring sheet scheduling disabled")
	}

	notifierProxy := &hubNotifier{}
	var sched *scheduler.Scheduler
	if sheetAdapter != nil {
		sched = scheduler.New(repo, queue, sheetAdapter, notifierProxy, clock, idGen, scheduler.Config{}, logger.Named("scheduler"))
		hubSinks = append(hubSinks, sched)
	}

	hub := notify.NewHub(notify.Config{
		BufferSize:     cfg.Notify.BufferSize,
		MaxBatchEvents: cfg.Notify.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Notify.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Notify.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         logger.Named("notify_hub"),
	}, hubSinks...)
	notifierProxy.hub = hub
	a.hub = hub
	a.scheduler = sched

	renderEngine, err := analyser.NewRenderEngine(analyser.RenderEngineConfig{MaxParallel: cfg.Render.MaxParallel})
	if err != nil {
		return nil, fmt.Errorf("render engine init failed: %w", err)
	}
	proxyClient := analyser.NewProxyClient(analyser.ProxyConfig{
		BaseURL:       cfg.Proxy.BaseURL,
		APIToken:      cfg.Proxy.APIToken,
		RetryAttempts: cfg.Proxy.RetryAttempts,
		Timeout:       time.Duration(cfg.Proxy.TimeoutMs) * time.Millisecond,
	})
	analyserCfg := analyser.Config{
		RenderTimeout:      time.Duration(cfg.Render.TimeoutMs) * time.Millisecond,
		RenderSettle:       time.Duration(cfg.Render.SettleMs) * time.Millisecond,
		ReloadSettle:       time.Duration(cfg.Render.ReloadSettleMs) * time.Millisecond,
		PostScrollWait:     time.Duration(cfg.Render.PostScrollMs) * time.Millisecond,
		ProxyRetryAttempts: cfg.Proxy.RetryAttempts,
		ProxyTimeout:       time.Duration(cfg.Proxy.TimeoutMs) * time.Millisecond,
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 2, DefaultBurst: 2})
	linkAnalyser := analyser.New(analyserCfg, renderEngine, proxyClient, clock, analyser.WithRateLimiter(limiter))

	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			repo,
			linkAnalyser,
			hub,
			clock,
			worker.Config{
				WorkerID:     fmt.Sprintf("worker-%d", i),
				LeaseTimeout: cfg.LeaseTimeout(),
			},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(queue, workers)

	apiServer := api.NewServer(dispatcherEnqueuer{dispatch: a.dispatch}, repo, clock, sseSink, cfg, logger.Named("api"))
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// dispatcherEnqueuer narrows *dispatcher.Dispatcher to the Enqueue-only
// surface the api package depends on.
type dispatcherEnqueuer struct {
	dispatch *dispatcher.Dispatcher
}

func (d dispatcherEnqueuer) Enqueue(ctx context.Context, job linkaudit.Job) error {
	return d.dispatch.Enqueue(ctx, job)
}

func buildRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (linkaudit.Repository, closer, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		logger.Info("using postgres repository backend")
		repo, err := repopostgres.New(ctx, repopostgres.Config{DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres repository init failed: %w", err)
		}
		return repo, repo, nil
	default:
		logger.Info("using in-memory repository backend")
		return repomemory.New(nil), nil, nil
	}
}

func buildQueue(cfg config.Config, clock linkaudit.Clock, logger *zap.Logger) (linkaudit.Queue, *redis.Client, error) {
	switch cfg.Queue.Backend {
	case "redis":
		logger.Info("using redis queue backend", zap.String("addr", cfg.Queue.RedisAddr))
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		q := redisqueue.New(rdb, redisqueue.Config{
			MaxAttempts:      cfg.Queue.MaxAttempts,
			BackoffBase:      time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond,
			RetainCompleted:  100,
			RetainDeadLetter: 50,
			KeyPrefix:        "linkauditor:queue",
		}, clock)
		return q, rdb, nil
	default:
		logger.Info("using in-memory queue backend")
		q := queuememory.New(queuememory.Config{
			MaxAttempts:      cfg.Queue.MaxAttempts,
			BackoffBase:      time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond,
			RetainCompleted:  100,
			RetainDeadLetter: 50,
		}, clock)
		return q, nil, nil
	}
}
