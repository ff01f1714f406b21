// Package app wires every CrossBridge component together: configuration,
// storage connections, the domain packages (C1-C8), the processing
// pipeline (C11), and the ingest HTTP service (C10).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"crossbridge/internal/config"
	"crossbridge/internal/domain/drift"
	"crossbridge/internal/domain/rules"
	"crossbridge/internal/domain/signals"
	"crossbridge/internal/infrastructure/archive"
	"crossbridge/internal/infrastructure/database"
	"crossbridge/internal/infrastructure/repository"
	"crossbridge/internal/infrastructure/spill"
	"crossbridge/internal/infrastructure/stream"
	"crossbridge/internal/migration"
	"crossbridge/internal/pipeline"
	httpTransport "crossbridge/internal/transport/http"
	"crossbridge/internal/transport/http/handlers"
	"crossbridge/pkg/logging"
)

// knownFrameworks seeds the rule registry at startup; PackFor loads any
// framework outside this set lazily via the generic.yaml fallback.
var knownFrameworks = []string{"pytest", "selenium", "robot", "generic"}

// App owns every long-lived component's lifecycle: construction order in
// New mirrors teardown order (reversed) in Shutdown.
type App struct {
	config *config.Config
	logger *slog.Logger
	infra  *logrus.Logger

	postgres   *database.PostgresDB
	clickhouse *database.ClickHouseDB
	redis      *database.RedisDB
	migrations *migration.Manager

	spillLog    *spill.Log
	eventWriter *repository.EventWriter
	retention   *repository.RetentionSweeper

	registry *rules.Registry
	stage    *pipeline.Stage
	queue    *pipeline.Pool

	publisher  *stream.Publisher
	subscriber *stream.Subscriber

	httpServer *httpTransport.Server

	shutdownOnce sync.Once
}

// New constructs every component and wires them together. It does not
// start anything that runs in the background (HTTP listener, retention
// sweep, stream tailer) — that's Start's job.
func New(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	infraLogger := newInfraLogger(cfg)

	a := &App{config: cfg, logger: logger, infra: infraLogger}

	var err error
	a.postgres, err = database.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.clickhouse, err = database.NewClickHouseDB(cfg, infraLogger)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	a.redis, err = database.NewRedisDB(cfg, infraLogger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a.migrations, err = migration.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("build migration manager: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := a.migrations.AutoMigrate(context.Background()); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	a.spillLog = spill.NewLog("spill.ndjson")
	a.eventWriter = repository.NewEventWriter(a.clickhouse.Conn, a.spillLog)

	archiver, err := archive.NewArchiver(context.Background(), cfg, a.clickhouse.Conn, infraLogger)
	if err != nil {
		return nil, fmt.Errorf("build event archiver: %w", err)
	}
	// archiver is a *archive.Archiver that NewArchiver leaves nil when
	// archival is disabled; only assign to the interface field when it's
	// genuinely non-nil, or the sweeper's nil check on the interface
	// would pass and it would call through a nil pointer.
	var eventArchiver repository.EventArchiver
	if archiver != nil {
		eventArchiver = archiver
	}
	a.retention = repository.NewRetentionSweeper(a.postgres.DB, a.clickhouse.Conn, eventArchiver)

	a.registry = rules.NewRegistry(cfg, "rules", logger, knownFrameworks)

	graphRepo := repository.NewGraphRepository(a.postgres.DB)
	flakyRepo := repository.NewFlakyRepository(a.postgres.DB)
	driftRepo := repository.NewDriftRepository(a.postgres.DB)

	a.publisher = stream.NewPublisher(a.redis.Client, infraLogger)
	a.subscriber = stream.NewSubscriber(a.redis.Client, infraLogger)
	sinks := []drift.Sink{driftRepo, a.publisher}

	artifacts, err := pipeline.NewFileArtifactWriter("artifacts")
	if err != nil {
		return nil, fmt.Errorf("build artifact writer: %w", err)
	}

	a.stage = pipeline.NewStage(
		cfg, logger,
		a.eventWriter, graphRepo, flakyRepo, driftRepo, artifacts,
		signals.NewPipeline(), a.registry,
		sinks...,
	)

	// Seed the drift monitor's rolling windows from persisted history
	// before the pipeline starts accepting traffic, so severities right
	// after a deploy reflect the full window instead of resetting cold.
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Observer.Drift.WindowDays)
	seeds, err := driftRepo.LoadAllMeasurementsSince(cutoff)
	if err != nil {
		return nil, fmt.Errorf("load drift measurement history: %w", err)
	}
	for _, seed := range seeds {
		a.stage.SeedDriftWindow(seed.TestID, seed.Framework, seed.Measurement)
	}

	a.queue = pipeline.NewPool(cfg.Observer.Queue, a.stage, logger)

	eventHandlers := handlers.NewEventHandlers(logger, a.queue)
	opsHandlers := handlers.NewOperationalHandlers(map[string]handlers.Pinger{
		"postgres":   a.postgres,
		"clickhouse": a.clickhouse,
		"redis":      a.redis,
	}, a.queue)
	adminHandlers := handlers.NewAdminHandlers(logger, a.registry)
	var driftFeedHandlers *handlers.DriftFeedHandlers
	if a.subscriber != nil {
		driftFeedHandlers = handlers.NewDriftFeedHandlers(logger, a.subscriber)
	}

	a.httpServer = httpTransport.NewServer(cfg, infraLogger, eventHandlers, opsHandlers, adminHandlers, driftFeedHandlers)

	return a, nil
}

func newInfraLogger(cfg *config.Config) *logrus.Logger {
	l := logrus.New()
	if cfg.Logging.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// Start launches every background component: the HTTP listener, the
// drift-signal stream tailer (if configured), and the periodic retention
// sweep. It blocks until all of them have exited: an error from one cancels
// the context of the others (the HTTP listener itself stops only on
// Shutdown), and the first error is returned.
func (a *App) Start(ctx context.Context) error {
	a.queue.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.httpServer.Start()
	})

	if a.subscriber != nil {
		g.Go(func() error {
			err := a.subscriber.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return a.runRetentionLoop(gctx)
	})

	g.Go(func() error {
		return a.runSpillRetryLoop(gctx)
	})

	return g.Wait()
}

// StartMaintenanceOnly runs only the background maintenance loops
// (retention sweep, spill retry) without the ingest HTTP listener or the
// worker pool — the split-deployment mode cmd/worker uses to scale
// maintenance work independently of ingest traffic.
func (a *App) StartMaintenanceOnly(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runRetentionLoop(gctx) })
	g.Go(func() error { return a.runSpillRetryLoop(gctx) })
	return g.Wait()
}

// runRetentionLoop sweeps aged rows once a day; the interval is fixed
// rather than configurable since the retention windows themselves (days)
// already make sub-daily sweeps pointless.
func (a *App) runRetentionLoop(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r := a.config.Observer.Retention
			if err := a.retention.Sweep(ctx, r.EventsDays, r.HistoryDays, r.DriftDays); err != nil {
				a.logger.Error("retention sweep failed", "error", err)
			}
			a.stage.TrimDriftWindows(time.Now().UTC())
		}
	}
}

// runSpillRetryLoop periodically drains the local spill log, retrying
// each dead-lettered event against ClickHouse.
func (a *App) runSpillRetryLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			retried, remaining, err := a.spillLog.Drain(a.eventWriter.RetryFromSpill)
			if err != nil {
				a.logger.Error("spill log drain failed", "error", err)
				continue
			}
			if retried > 0 {
				a.logger.Info("spill log drained", "retried", retried, "remaining", remaining)
			}
		}
	}
}

// Shutdown drains the ingest queue and HTTP listener within ctx's
// deadline, then closes every storage connection.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})
	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("shutting down crossbridge observer")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown failed", "error", err)
	}
	if err := a.queue.Shutdown(ctx); err != nil {
		a.logger.Error("pipeline drain did not complete before deadline", "error", err)
	}

	a.eventWriter.Close()

	if err := a.migrations.Shutdown(); err != nil {
		a.logger.Error("migration manager shutdown failed", "error", err)
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close failed", "error", err)
	}
	if err := a.clickhouse.Close(); err != nil {
		a.logger.Error("clickhouse close failed", "error", err)
	}
	if err := a.postgres.Close(); err != nil {
		a.logger.Error("postgres close failed", "error", err)
	}

	a.logger.Info("crossbridge observer shutdown complete")
	return nil
}

// Logger returns the application's structured logger, for callers
// (cmd/server) that want to log before/after the App's own lifecycle.
func (a *App) Logger() *slog.Logger { return a.logger }

// GracefulDeadline returns the configured shutdown grace period as a
// context deadline helper for cmd/server's signal handler.
func (a *App) GracefulDeadline() time.Duration {
	return time.Duration(a.config.Observer.Shutdown.GracefulSeconds) * time.Second
}
