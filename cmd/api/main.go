package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicware/anamnesis-platform/internal/anamnesis"
	"github.com/clinicware/anamnesis-platform/internal/api/router"
	"github.com/clinicware/anamnesis-platform/internal/app/bootstrap"
	"github.com/clinicware/anamnesis-platform/internal/archive"
	appconfig "github.com/clinicware/anamnesis-platform/internal/config"
	"github.com/clinicware/anamnesis-platform/internal/formsession"
	"github.com/clinicware/anamnesis-platform/internal/handoff"
	"github.com/clinicware/anamnesis-platform/internal/identity"
	"github.com/clinicware/anamnesis-platform/internal/notify"
	"github.com/clinicware/anamnesis-platform/internal/observability/metrics"
	"github.com/clinicware/anamnesis-platform/internal/patients"
	"github.com/clinicware/anamnesis-platform/internal/protocol"
	"github.com/clinicware/anamnesis-platform/internal/resources"
	"github.com/clinicware/anamnesis-platform/internal/signals"
	"github.com/clinicware/anamnesis-platform/internal/submission"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting anamnesis-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores (development only)")
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	// Metrics
	submissionMetrics := metrics.NewSubmissionMetrics(nil)
	enrichmentMetrics := metrics.NewEnrichmentMetrics(nil)
	sessionMetrics := metrics.NewSessionMetrics(nil)

	// Durable form-state slots and the session aggregate
	slotStore := bootstrap.BuildSlotStore(cfg, redisClient, logger)
	aggregator := formsession.NewAggregator(slotStore, cfg.SlotKeyPrefix, logger)

	// Repositories
	var recordRepo anamnesis.Repository
	var patientRepo patients.Repository
	var resourceRepo resources.Repository
	var resourceWriter resources.Writer
	var resolver identity.Resolver
	if pool != nil {
		recordRepo = anamnesis.NewPostgresRepository(pool)
		patientRepo = patients.NewPostgresRepository(pool)
		pgResources := resources.NewPostgresRepository(pool)
		resourceRepo, resourceWriter = pgResources, pgResources
		resolver = bootstrap.BuildResolver(pool, redisClient, logger)
	} else {
		recordRepo = anamnesis.NewInMemoryRepository()
		patientRepo = patients.NewInMemoryRepository()
		memResources := resources.NewInMemoryRepository()
		resourceRepo, resourceWriter = memResources, memResources
		resolver = identity.NewStaticResolver()
	}

	// AI protocol generation
	generator, err := bootstrap.BuildGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build protocol generator", "error", err)
		os.Exit(1)
	}

	// Enrichment re-run queue, job store, and worker
	queue, err := bootstrap.BuildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build enrichment queue", "error", err)
		os.Exit(1)
	}
	var jobPool protocol.PgxJobPool
	if pool != nil {
		jobPool = pool
	}
	jobStore, err := bootstrap.BuildJobStore(ctx, cfg, jobPool, logger)
	if err != nil {
		logger.Error("failed to build enrichment job store", "error", err)
		os.Exit(1)
	}

	workerOpts := []protocol.WorkerOption{
		protocol.WithWorkerCount(cfg.WorkerCount),
		protocol.WithJobObserver(func(status protocol.JobStatus, elapsed time.Duration) {
			enrichmentMetrics.ObserveJob(string(status), elapsed.Seconds())
		}),
	}
	if cfg.SendGridAPIKey != "" && cfg.AlertEmail != "" {
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		alerts := notify.NewService(sender, notify.StaticRecipient{Email: cfg.AlertEmail, Name: cfg.AlertName}, logger)
		workerOpts = append(workerOpts, protocol.WithFailureNotifier(alerts))
	}
	worker := protocol.NewWorker(generator, queue, jobStore, recordRepo, logger, workerOpts...)
	worker.Start(ctx)

	// Visibility signals
	bus := signals.NewBus()
	tracker := signals.NewTracker(bus, logger,
		signals.WithCoalesceWindow(cfg.FocusCoalesceWindow),
		signals.WithObserver(func(event signals.Event) {
			sessionMetrics.ObserveSignal(string(event.Kind))
		}),
	)

	// Resource catalogue, refreshed when a session resumes
	catalog := resources.NewCatalog(resourceRepo, logger)
	go catalog.Watch(ctx, bus)

	// Record archive export
	submitOpts := []submission.Option{}
	if cfg.ArchiveEnabled && cfg.ArchiveBucket != "" {
		awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for archive", "error", err)
			os.Exit(1)
		}
		store := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
		submitOpts = append(submitOpts, submission.WithArchiver(store))
		logger.Info("record archive export enabled", "bucket", cfg.ArchiveBucket)
	}

	orchestrator := submission.NewOrchestrator(resolver, recordRepo, generator, aggregator, logger, submitOpts...)

	// Handlers
	routerCfg := &router.Config{
		Logger:             logger,
		AuthSecret:         cfg.AuthJWTSecret,
		Resolver:           resolver,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler:     promhttp.Handler(),
		FormSessions:       formsession.NewHandler(aggregator, logger, formsession.WithMetrics(sessionMetrics)),
		Submissions:        submission.NewHandler(orchestrator, logger, submission.WithMetrics(submissionMetrics)),
		Signals:            signals.NewHandler(tracker, bus, logger),
		Handoff:            handoff.NewHandler(bootstrap.BuildHandoffChannel(redisClient, logger), logger, handoff.WithSeeder(aggregator)),
		Records:            anamnesis.NewHandler(recordRepo, logger),
		Enrichment:         protocol.NewHandler(protocol.NewService(queue, jobStore, recordRepo, logger), logger),
		Resources:          resources.NewHandler(catalog, resourceWriter, logger),
		Patients:           patients.NewHandler(patientRepo, logger),
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	worker.Wait()
	logger.Info("server stopped")
}
