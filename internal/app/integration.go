package app

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	"github.com/odyssey-erp/odyssey-sync/internal/integration/documents"
	"github.com/odyssey-erp/odyssey-sync/internal/integration/mapper"
	"github.com/odyssey-erp/odyssey-sync/internal/integration/provider"
	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

// IntegrationDeps are the shared resources the integration services run on.
type IntegrationDeps struct {
	Config    *Config
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Scheduler integration.DispatchScheduler
	Observer  integration.Observer
	Logger    *slog.Logger
}

// Integration bundles the wired integration services.
type Integration struct {
	Repo        *integration.PostgresRepository
	Cache       *integration.Cache
	Connections *integration.ConnectionService
	Queue       *integration.QueueService
	Hooks       *integration.Hooks
	Documents   *documents.Store
	Dispatcher  *integration.Dispatcher
	Mapper      *mapper.Registry
	Poster      *provider.HTTPPoster
}

// NewIntegration wires the posting queue stack from configuration.
func NewIntegration(deps IntegrationDeps) (*Integration, error) {
	sealer, err := deps.Config.Sealer()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	icfg := deps.Config.Integration

	repo := integration.NewPostgresRepository(deps.Pool)
	cache := integration.NewCache(deps.Redis, icfg.CacheTTL)
	audit := shared.NewAuditLogger(deps.Pool)
	queue := integration.NewQueueService(repo, cache, audit, deps.Scheduler, logger.With(slog.String("component", "posting_queue")))
	docs := documents.NewStore(deps.Pool)

	client := &http.Client{Timeout: icfg.CallTimeout}
	poster := provider.NewHTTPPoster(icfg.ProviderConfig(), client, logger.With(slog.String("component", "provider")))

	registry := mapper.Default()

	var leaser integration.Leaser
	if deps.Redis != nil {
		leaser = integration.NewRedisLeaser(deps.Redis)
	}
	dispatcher := integration.NewDispatcher(integration.DispatcherDeps{
		Repo:     repo,
		Source:   docs,
		Mapper:   registry,
		Poster:   poster,
		Sealer:   sealer,
		Leaser:   leaser,
		Cache:    cache,
		Observer: deps.Observer,
		Logger:   logger.With(slog.String("component", "dispatcher")),
	}, icfg.DispatcherConfig())

	return &Integration{
		Repo:        repo,
		Cache:       cache,
		Connections: integration.NewConnectionService(repo, sealer, cache, audit, logger.With(slog.String("component", "connections"))),
		Queue:       queue,
		Hooks:       integration.NewHooks(queue, logger.With(slog.String("component", "hooks"))),
		Documents:   docs,
		Dispatcher:  dispatcher,
		Mapper:      registry,
		Poster:      poster,
	}, nil
}
