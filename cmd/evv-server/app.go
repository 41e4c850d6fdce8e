package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/config"
	"github.com/careconnect/evv/internal/domain/audit"
	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/domain/offline"
	"github.com/careconnect/evv/internal/domain/patient"
	"github.com/careconnect/evv/internal/domain/schedule"
	"github.com/careconnect/evv/internal/domain/submission"
	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/integration"
	"github.com/careconnect/evv/internal/platform/auth"
	"github.com/careconnect/evv/internal/platform/db"
	"github.com/careconnect/evv/internal/platform/lock"
	"github.com/careconnect/evv/internal/platform/metrics"
	"github.com/careconnect/evv/internal/platform/middleware"
	"github.com/careconnect/evv/internal/platform/scheduler"
)

const version = "0.1.0"

// Job names, also used as lock keys.
const (
	jobOfflineSync    = "offline-sync"
	jobSyncRetry      = "sync-retry"
	jobOutboxDispatch = "outbox-dispatch"
)

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "evv").Logger()
}

// stores groups the repositories behind one persistence backend.
type stores struct {
	records     visit.RecordRepository
	corrections visit.CorrectionRepository
	patients    visit.PatientDirectory
	visits      schedule.Repository
	audit       audit.Repository
	outbox      submission.Repository
	offline     offline.Repository
	tx          db.Transactor
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		records:     visit.NewRecordRepoPG(pool),
		corrections: visit.NewCorrectionRepoPG(pool),
		patients:    patient.NewRepoPG(pool),
		visits:      schedule.NewRepoPG(pool),
		audit:       audit.NewRepoPG(pool),
		outbox:      submission.NewRepoPG(pool),
		offline:     offline.NewRepoPG(pool),
		tx:          db.NewTransactor(pool),
	}
}

func memoryStores(patients *patient.MemoryRepo) stores {
	return stores{
		records:     visit.NewMemoryRecordRepo(),
		corrections: visit.NewMemoryCorrectionRepo(),
		patients:    patients,
		visits:      schedule.NewMemoryRepo(),
		audit:       audit.NewMemoryRepo(),
		outbox:      submission.NewMemoryRepo(),
		offline:     offline.NewMemoryRepo(),
		tx:          db.NoopTransactor{},
	}
}

// app is the wired process: every service plus the infrastructure they
// share. serve, worker and the one-shot commands all build one.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	rdb      *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	// patients is set only for the memory store.
	patients *patient.MemoryRepo

	audit       *audit.Logger
	records     *visit.Service
	corrections *visit.CorrectionService
	outbox      *submission.Outbox
	dispatcher  *submission.Dispatcher
	queue       *offline.Queue
	syncer      *offline.Syncer
	scheduler   *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	var st stores
	switch cfg.Store {
	case config.StoreMemory:
		a.patients = patient.NewMemoryRepo()
		st = memoryStores(a.patients)
		logger.Warn().Msg("using in-memory store; data is lost on exit")
	default:
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		st = pgStores(pool)
		logger.Info().Msg("connected to database")
	}

	rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		a.close()
		return nil, err
	}
	a.rdb = rdb
	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, "evv:")
		logger.Info().Msg("using redis job locks")
	}

	a.audit = audit.NewLogger(st.audit, logger.With().Str("component", "audit").Logger(), a.metrics)
	router := submission.NewRouter(nil)
	a.outbox = submission.NewOutbox(st.outbox, router,
		submission.WithAudit(a.audit),
		submission.WithLogger(logger.With().Str("component", "outbox").Logger()),
	)
	a.records = visit.NewService(st.records, st.corrections, st.patients, router,
		visit.WithTransactor(st.tx),
		visit.WithAudit(a.audit),
		visit.WithLocationResolver(location.NewResolver()),
		visit.WithVisitCompleter(st.visits),
		visit.WithApprovalListener(a.outbox),
		visit.WithLogger(logger.With().Str("component", "visit").Logger()),
	)
	a.corrections = visit.NewCorrectionService(a.records)

	a.dispatcher = submission.NewDispatcher(a.outbox, a.adapters(), submission.DispatcherConfig{
		Timeout:     cfg.AdapterTimeout,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BatchSize:   cfg.DispatchBatchSize,
		Concurrency: cfg.DispatchConcurrency,
	}, a.metrics, logger.With().Str("component", "dispatcher").Logger())

	a.queue = offline.NewQueue(st.offline, router,
		offline.WithAudit(a.audit),
		offline.WithLogger(logger.With().Str("component", "offline").Logger()),
	)
	a.syncer = offline.NewSyncer(a.queue, a.records, a.corrections, offline.SyncConfig{
		MaxAttempts:   cfg.SyncMaxAttempts,
		Workers:       cfg.SyncWorkers,
		RetryCooldown: cfg.SyncRetryInterval,
	}, a.metrics, logger.With().Str("component", "sync").Logger())

	a.scheduler = scheduler.New(logger.With().Str("component", "scheduler").Logger(), locker, a.metrics)
	for _, job := range a.jobs() {
		a.scheduler.Add(job)
	}
	return a, nil
}

func (a *app) adapters() *integration.Registry {
	client := &http.Client{Timeout: a.cfg.AdapterTimeout}
	log := a.logger.With().Str("component", "integration").Logger()
	opts := []integration.Option{integration.WithHTTPClient(client), integration.WithLogger(log)}
	return integration.NewRegistry(
		integration.NewMarylandInfoAdapter(log),
		integration.NewSandataAdapter(a.cfg.SandataBaseURL, a.cfg.SandataAPIKey, opts...),
		integration.NewVirginiaMCOAdapter(integration.VirginiaConfig{
			Endpoint:     a.cfg.VAMCOEndpoint,
			ClientID:     a.cfg.VAMCOClientID,
			ClientSecret: a.cfg.VAMCOClientSecret,
		}, opts...),
	)
}

func (a *app) jobs() []scheduler.Job {
	dispatchTTL := a.dispatcher.SweepBudget()
	if dispatchTTL < a.cfg.DispatchInterval {
		dispatchTTL = a.cfg.DispatchInterval
	}
	return []scheduler.Job{
		{
			Name:     jobOfflineSync,
			Interval: a.cfg.SyncInterval,
			Run: func(ctx context.Context) error {
				res, err := a.syncer.SyncPending(ctx)
				if res.Considered > 0 {
					a.logger.Info().Str("job", jobOfflineSync).
						Int("synced", res.Synced).Int("failed", res.Failed).Int("skipped", res.Skipped).
						Msg("offline sync pass")
				}
				return err
			},
		},
		{
			Name:     jobSyncRetry,
			Interval: a.cfg.SyncRetryInterval,
			Run: func(ctx context.Context) error {
				_, err := a.syncer.RetryFailed(ctx)
				return err
			},
		},
		{
			Name:       jobOutboxDispatch,
			Interval:   a.cfg.DispatchInterval,
			RunOnStart: true,
			LockTTL:    dispatchTTL,
			Run: func(ctx context.Context) error {
				res, err := a.dispatcher.Sweep(ctx)
				if res.Considered > 0 {
					a.logger.Info().Str("job", jobOutboxDispatch).
						Int("sent", res.Sent).Int("failed", res.Failed).
						Msg("outbox dispatch pass")
				}
				return err
			},
		},
	}
}

// echo builds the HTTP surface.
func (a *app) echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("2M"))
	e.Use(auth.ActorMiddleware(auth.JWTConfig{
		Issuer:      a.cfg.AuthIssuer,
		Audience:    a.cfg.AuthAudience,
		SigningKey:  []byte(a.cfg.AuthSigningKey),
		AllowHeader: a.cfg.IsDev(),
	}))

	// Infrastructure
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	var checks []db.Check
	if a.rdb != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}})
	}
	e.GET("/health/db", db.HealthHandler(a.pool, checks...))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1", middleware.RequestTimeout(a.cfg.RequestTimeout))
	visit.NewHandler(a.records, a.corrections).RegisterRoutes(api)
	offline.NewHandler(a.queue, a.syncer).RegisterRoutes(api)
	submission.NewHandler(a.outbox, a.dispatcher).RegisterRoutes(api)
	audit.NewHandler(a.audit).RegisterRoutes(api)
	return e
}

// serve runs the HTTP server and the scheduler until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	e := a.echo()
	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()

	errc := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
