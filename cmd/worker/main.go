package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-saas/meridian/internal/app"
	jobmetrics "github.com/meridian-saas/meridian/internal/jobs"
	"github.com/meridian-saas/meridian/internal/observability"
	"github.com/meridian-saas/meridian/internal/platform/cache"
	"github.com/meridian-saas/meridian/internal/platform/db"
	"github.com/meridian-saas/meridian/internal/rbac"
	"github.com/meridian-saas/meridian/internal/users"
	"github.com/meridian-saas/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable at startup", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	store := rbac.NewRepository(pool)
	directory := users.NewRepository(pool)
	permCache := rbac.NewPermissionCache(redisClient, cfg.PermissionCacheTTL, logger, metrics)
	resolver := rbac.NewResolver(store, permCache, logger)

	warmupJob := jobs.NewPermissionsWarmupJob(resolver, directory, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionsWarmup, Handler: warmupJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
