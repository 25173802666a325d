// Package main is the entry point for the report generation worker.
//
// On startup it resynchronizes the job store against the active reports in
// the database, then claims generation jobs from Redis, renders each report
// through the rendering engine (bounded by a concurrency pool), uploads the
// document to object storage, and records it as the report's active
// artifact. It also runs the queue-depth monitor loop for both queues.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"reportflow/internal/config"
	"reportflow/internal/db"
	"reportflow/internal/jobstore"
	"reportflow/internal/render"
	"reportflow/internal/scheduler"
	"reportflow/internal/storage"
	"reportflow/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("reportflow generation worker starting",
		"environment", cfg.Environment,
		"concurrency", cfg.Queue.GenerationConcurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	store := jobstore.NewRedisStore(rdb, jobstore.Options{
		Retry: jobstore.RetryPolicy{
			MaxAttempts:   cfg.Queue.MaxAttempts,
			BaseDelay:     cfg.Queue.BackoffBase,
			BackoffFactor: jobstore.DefaultRetryPolicy.BackoffFactor,
		},
		StalledInterval: cfg.Queue.StalledInterval,
		MaxStalledCount: cfg.Queue.MaxStalledCount,
	}, logger)

	reportRepo := db.NewReportRepository(pool)
	templateRepo := db.NewTemplateRepository(pool)
	artifactRepo := db.NewArtifactRepository(pool)

	objStore, err := storage.NewS3Storage(storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		Region:         cfg.Storage.Region,
		Bucket:         cfg.Storage.Bucket,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		ForcePathStyle: cfg.Storage.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("creating object storage: %w", err)
	}

	var renderer render.Renderer
	if cfg.Render.URL != "" {
		renderer = render.NewHTTPRenderer(cfg.Render.URL, cfg.Render.Timeout)
	} else {
		logger.Warn("RENDER_URL not set, using stub renderer")
		renderer = render.StubRenderer{}
	}
	renderPool := render.NewPool(renderer, cfg.Queue.RenderPoolSize)

	sched := scheduler.NewReportScheduler(store, templateRepo, nil, logger)
	if err := sched.Resync(ctx, reportRepo); err != nil {
		return fmt.Errorf("resyncing schedules: %w", err)
	}
	go sched.MonitorLoop(ctx, cfg.Queue.MetricsInterval)

	handler := worker.NewGenerationHandler(reportRepo, artifactRepo, renderPool, objStore, nil, logger)
	dispatcher := worker.NewDispatcher(store, handler, worker.DispatcherConfig{
		Queue:             jobstore.QueueGeneration,
		Concurrency:       cfg.Queue.GenerationConcurrency,
		PollInterval:      cfg.Queue.PollInterval,
		HeartbeatInterval: cfg.Queue.HeartbeatInterval,
	}, logger)

	dispatcher.Run(ctx)

	logger.Info("generation worker stopped cleanly")
	return nil
}

// newDBPool builds the pgx connection pool from configuration.
func newDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
