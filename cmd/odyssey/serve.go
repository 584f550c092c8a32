package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-sync/internal/app"
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	integrationhttp "github.com/odyssey-erp/odyssey-sync/internal/integration/http"
	jobmetrics "github.com/odyssey-erp/odyssey-sync/internal/jobs"
	"github.com/odyssey-erp/odyssey-sync/internal/observability"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sync/internal/rbac"
	"github.com/odyssey-erp/odyssey-sync/internal/shared"
	"github.com/odyssey-erp/odyssey-sync/jobs"
)

type poolCloser struct{ pool *pgxpool.Pool }

func (p poolCloser) Close() error {
	p.pool.Close()
	return nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	postingMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	integ, err := app.NewIntegration(app.IntegrationDeps{
		Config:    cfg,
		Pool:      dbpool,
		Redis:     redisClient,
		Scheduler: jobClient,
		Observer:  postingMetrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := integ.Cache.Subscribe(ctx, func(evt integration.InvalidationEvent) {
		postingMetrics.ObserveInvalidation(evt)
		logger.Debug("cache invalidated",
			slog.Int64("tenant_id", evt.TenantID),
			slog.String("entity", evt.Entity),
			slog.Int64("version", evt.Version))
	}); err != nil {
		logger.Warn("cache subscribe", slog.Any("error", err))
	}

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Sessions:           shared.NewSessionStore(redisClient, cfg.SessionCookie),
		IntegrationHandler: integrationhttp.NewHandler(logger, integ.Connections, integ.Queue, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacMiddleware, rbacService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Checks: map[string]app.Pinger{
			"postgres": dbpool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
