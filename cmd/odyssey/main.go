package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-sync/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-sync/internal/app"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sync/jobs"
	"github.com/odyssey-erp/odyssey-sync/migrations"
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
		os.Exit(cli.ExitFailure)
	}
	logger := app.NewLogger(cfg)

	root := cli.NewRootCommand(cli.Env{
		Serve: func(ctx context.Context) error {
			return serve(ctx, cfg, logger)
		},
		Migrator: func() (cli.Migrator, error) {
			return migrations.New(cfg.PGDSN, logger)
		},
		Jobs: func() (*cli.JobsCLI, error) {
			return newJobsCLI(ctx, cfg)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(cli.ExitCommandError)
	}
}

// newJobsCLI connects the helpers used by the jobs subcommands. Posting
// statistics are only available when Postgres is reachable.
func newJobsCLI(ctx context.Context, cfg *app.Config) (*cli.JobsCLI, error) {
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := jobs.NewClient(redisOpts)
	inspector := asynq.NewInspector(redisOpts)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("jobs: %w", err), client.Close(), inspector.Close())
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, errors.Join(fmt.Errorf("jobs: %w", err), client.Close(), inspector.Close())
	}
	integ, err := app.NewIntegration(app.IntegrationDeps{Config: cfg, Pool: pool, Redis: redisClient})
	if err != nil {
		pool.Close()
		return nil, errors.Join(err, redisClient.Close(), client.Close(), inspector.Close())
	}
	return cli.NewJobsCLI(client, inspector, integ.Queue, client, inspector, redisClient, poolCloser{pool}), nil
}
