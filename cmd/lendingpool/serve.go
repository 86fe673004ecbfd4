package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LendingPool/internal/config"
	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/ingestion"
	"LendingPool/internal/observability"
	"LendingPool/internal/persistence"
	"LendingPool/internal/projection"
	"LendingPool/internal/query"
	"LendingPool/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func serve(parent context.Context, cfg config.Config) error {
	logger := observability.NewLogger("main")
	logger.Info().Msg("lendingpool starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("postgres connected, migrations applied")

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()
	healthChecker.SetPhase(observability.PhaseRecovering)

	// --- Core ---
	// Persistence blocks (backpressure); projections drop when full.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	requests := make(chan core.Request, cfg.RequestChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	deterministicCore, err := core.NewDeterministicCore(1, persistChan, projectionChan, dbChecker, cfg.IdempotencyLRUCapacity, metrics)
	if err != nil {
		return fmt.Errorf("create core: %w", err)
	}

	healthChecker.SetPool(deterministicCore)

	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverCore(ctx, deterministicCore, snapMgr, dbChecker, cfg.IdempotencyLRUCapacity, healthChecker, metrics, logger); err != nil {
		return err
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return err
	}

	// --- Downstream workers ---
	// They outlive the front of the pipeline so that everything the core
	// emitted is flushed before exit.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	persistWorker.SetLastPersisted(deterministicCore.LastSequence())
	publisher := ingestion.NewOutboundPublisher(js, cfg.PublishQueueSize, metrics)
	persistWorker.OnCommit(publisher.Enqueue)
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)

	persistDone := make(chan error, 1)
	go func() {
		err := persistWorker.Run(workerCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("persistence worker failed")
			stop()
			// Unblock the core so the front can stop; nothing more is durable.
			go func() {
				for range persistChan {
				}
			}()
		}
		persistDone <- err
	}()
	workers, wctx := errgroup.WithContext(workerCtx)
	workers.Go(func() error { return projWorker.Run(wctx) })
	workers.Go(func() error { return publisher.Run(wctx) })

	// --- Front: ingestion, core, API ---
	ingest := ingestion.NewGRPCIngestService(requests, deterministicCore, metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Core:          deterministicCore,
		Submitter:     ingest,
		Query:         query.NewQueryService(db, metrics),
		Admin:         server.NewDBAdmin(db, metrics),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		RateLimit:     cfg.IngestRateLimit,
	})

	rawEvents := make(chan ingestion.RawEvent, cfg.RequestChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEvents)
	router := ingestion.NewRouter(ingestion.DefaultSubjects(), requests, metrics)

	front, fctx := errgroup.WithContext(ctx)
	front.Go(func() error { return deterministicCore.Run(fctx, requests) })

	if err := initializePool(fctx, deterministicCore, ingest, cfg.PoolFile, logger); err != nil {
		stop()
		_ = front.Wait()
		return err
	}

	if err := subscriber.Subscribe(fctx, ingestion.DefaultSubjects()); err != nil {
		stop()
		_ = front.Wait()
		return err
	}
	front.Go(func() error { return router.Run(fctx, rawEvents) })
	front.Go(func() error { return grpcServer.StartGRPC(fctx) })
	front.Go(func() error { return grpcServer.StartHTTPGateway(fctx) })
	front.Go(func() error { return serveMetrics(fctx, cfg.MetricsAddr, reg, logger) })

	snaps := &snapshotter{
		core:     deterministicCore,
		mgr:      snapMgr,
		persist:  persistWorker,
		interval: cfg.SnapshotInterval,
		metrics:  metrics,
		logger:   logger,
	}
	front.Go(func() error {
		snaps.run(fctx, func() {
			metrics.SetChannelMetrics("requests", len(requests), cap(requests))
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
		})
		return nil
	})

	healthChecker.SetPhase(observability.PhaseServing)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", deterministicCore.LastSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("lendingpool ready")

	<-fctx.Done()
	logger.Info().Msg("shutting down")
	healthChecker.SetPhase(observability.PhaseDraining)
	subscriber.Stop()

	frontErr := front.Wait()

	// Only the core sends on these; it has stopped.
	close(persistChan)
	close(projectionChan)
	persistErr := <-persistDone
	cancelWorkers()
	_ = workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if persistErr == nil {
		if err := snaps.take(shutdownCtx, true); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Msg("final snapshot saved")
		}
	}

	logger.Info().Msg("lendingpool shutdown complete")
	if persistErr != nil && !errors.Is(persistErr, context.Canceled) {
		return persistErr
	}
	if frontErr != nil && !errors.Is(frontErr, context.Canceled) {
		return frontErr
	}
	return nil
}

// recoverCore restores the latest verified snapshot and replays the log
// after it. On a cold start the LRU is warmed from the newest logged keys.
func recoverCore(
	ctx context.Context,
	c *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	lruCapacity int,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		coreState, err := snap.CoreState()
		if err != nil {
			return err
		}
		if err := c.RestoreFromSnapshot(coreState); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		keys, err := dbChecker.RecentKeys(ctx, lruCapacity)
		if err != nil {
			return fmt.Errorf("warm idempotency cache: %w", err)
		}
		c.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("no snapshot, cold start")
	}

	replayed, err := snapMgr.ReplayLog(ctx, c.GetSequence(), 1000, func(env *event.EventEnvelope) error {
		return c.ReplayEvent(env)
	})
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	health.RecordReplay(replayed)
	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	if replayed > 0 {
		logger.Info().Int64("events", replayed).Int64("sequence", c.LastSequence()).Msg("replayed event log")
	}
	return nil
}

// initializePool injects PoolInitialized from the pool file unless the log
// already holds one.
func initializePool(ctx context.Context, c *core.DeterministicCore, ingest *ingestion.GRPCIngestService, path string, logger zerolog.Logger) error {
	if c.Initialized() {
		return nil
	}
	if path == "" {
		logger.Warn().Msg("pool not initialized and no pool file configured")
		return nil
	}

	poolCfg, err := config.LoadPoolConfig(path)
	if err != nil {
		return err
	}
	res, err := ingest.InjectPoolInitialized(ctx, poolCfg, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	if res.Err != nil {
		return fmt.Errorf("initialize pool: %w", res.Err)
	}
	logger.Info().Str("pool", poolCfg.Name).Int("reserves", len(poolCfg.Reserves)).Msg("pool initialized")
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
