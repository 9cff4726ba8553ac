// Package main is the entrypoint for the Pulse aggregation engine.
//
// The process runs two components side by side: the scheduler tick loop that
// drives per-tenant aggregation jobs, and the admin HTTP API for inspecting
// and manually triggering those jobs. Both share one dependency graph wired
// here; all business logic lives in the internal packages.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"pulse/internal/api/handlers"
	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/db"
	"pulse/internal/etl"
	"pulse/internal/goals"
	"pulse/internal/metrics"
	"pulse/internal/scheduler"
	"pulse/internal/types"
	"pulse/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		slog.Error("aggregator terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("aggregator initializing",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Control-plane pool: tenants, definitions, goals, output points.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	// Warehouse pool: the tenants' source schemas. Falls back to the
	// control-plane database in single-instance deployments.
	warehousePool := pool
	if url := cfg.Warehouse.URL.Unmask(); url != "" {
		whCfg, err := pgxpool.ParseConfig(url)
		if err != nil {
			return fmt.Errorf("parsing warehouse url: %w", err)
		}
		whCfg.MaxConns = int32(cfg.Warehouse.MaxConns)

		warehousePool, err = pgxpool.NewWithConfig(ctx, whCfg)
		if err != nil {
			return fmt.Errorf("creating warehouse pool: %w", err)
		}
		defer warehousePool.Close()

		if err := warehousePool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging warehouse: %w", err)
		}
	}

	// Repositories and domain services.
	tenantRepo := db.NewTenantRepository(pool)
	metricRepo := db.NewMetricRepository(pool)
	seriesRepo := db.NewSeriesRepository(pool)
	goalRepo := db.NewGoalRepository(pool)

	warehouseClient := warehouse.NewClient(warehousePool, logger)
	goalResolver := goals.NewResolver(goalRepo, logger)
	evaluator := metrics.NewEvaluator(warehouseClient, goalResolver, logger)

	runner := etl.NewRunner(etl.RunnerConfig{
		Tenants:   tenantRepo,
		Registry:  metricRepo,
		Series:    seriesRepo,
		Evaluator: evaluator,
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Config{
		Runner:       runner,
		Logger:       logger,
		TickInterval: cfg.Scheduler.TickInterval,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
		Enabled:      cfg.Scheduler.Enabled,
	})

	if err := seedJobs(ctx, sched, tenantRepo, cfg, logger); err != nil {
		return err
	}

	// Admin HTTP API.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		poolProbe{name: "database", pool: pool},
		poolProbe{name: "warehouse", pool: warehousePool},
	}

	jobsHandler := handlers.NewJobsHandler(sched, srv.Validator, logger)
	srv.AdminRouteRegistrars = []core.RouteRegistrar{jobsHandler.RegisterRoutes}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("admin API listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sched.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down admin API")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("aggregator stopped")
	return nil
}

// tenantLister is the slice of the tenant repository used during seeding.
type tenantLister interface {
	ListActive(ctx context.Context) ([]types.Tenant, error)
}

// seedJobs registers one aggregation job per active tenant so the first tick
// after startup covers the whole fleet. Tenants onboarded later are added
// through the admin API of the configuration service, which restarts the
// engine; the in-memory job table makes that cheap.
func seedJobs(ctx context.Context, sched *scheduler.Scheduler, tenants tenantLister, cfg *config.Config, logger *slog.Logger) error {
	active, err := tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active tenants: %w", err)
	}

	for _, tenant := range active {
		if err := sched.AddOrUpdateJob(tenant.ID, nil, cfg.Scheduler.JobIntervalMinutes); err != nil {
			return fmt.Errorf("seeding job for tenant %s: %w", tenant.ID, err)
		}
	}

	logger.Info("job table seeded", "tenants", len(active))
	return nil
}

// poolProbe adapts a pgx pool to the health probe interface.
type poolProbe struct {
	name string
	pool *pgxpool.Pool
}

func (p poolProbe) Name() string { return p.name }

func (p poolProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With(
		"service", cfg.Service,
		"environment", cfg.Environment,
	)
}
