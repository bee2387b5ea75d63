package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/config"
	"sales-assistant/internal/common/database"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/common/observability"
	"sales-assistant/internal/conversation"
	"sales-assistant/internal/dates"
	"sales-assistant/internal/embedding"
	"sales-assistant/internal/entity"
	"sales-assistant/internal/format"
	"sales-assistant/internal/intent"
	"sales-assistant/internal/orchestrator"
	"sales-assistant/internal/transport/httpapi"
	"sales-assistant/internal/warehouse"
)

// stack is every long-lived component of a running assistant.
type stack struct {
	cfg          *config.Config
	log          logger.Logger
	obs          *observability.Observability
	pg           *database.PostgresClient
	redis        *database.RedisClient
	es           *database.ElasticsearchClient
	catalog      *catalog.Catalog
	resolver     *entity.Resolver
	memStore     *conversation.MemoryStore
	orchestrator *orchestrator.Orchestrator
	closers      []func()
}

// retryWithBackoff runs operation until it succeeds, doubling the delay
// after each failure.
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryMs": delay.Milliseconds(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func buildStack(ctx context.Context, cfg *config.Config, log logger.Logger) (*stack, error) {
	s := &stack{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	s.obs = observability.New(cfg.App.Name)
	s.closers = append(s.closers, s.obs.Shutdown)

	// --- PostgreSQL (warehouse) ---
	err := retryWithBackoff(ctx, func() error {
		var err error
		s.pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return s.pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { s.pg.Close() })
	log.Info("PostgreSQL connected successfully", nil)

	// --- Redis (sessions and caches) ---
	var rdb redis.Cmdable
	if cfg.Database.Redis.Enabled || cfg.Session.Store == "redis" {
		err = retryWithBackoff(ctx, func() error {
			var err error
			s.redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return s.redis.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			return nil, err
		}
		rdb = s.redis.Client
		s.closers = append(s.closers, func() { s.redis.Close() })
		log.Info("Redis connected successfully", nil)
	}

	// --- Elasticsearch (optional reference source) ---
	if cfg.Database.Elasticsearch.Enabled {
		err = retryWithBackoff(ctx, func() error {
			var err error
			s.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return s.es.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		log.Info("Elasticsearch connected successfully", nil)
	}

	// --- Catalog and intent matching ---
	s.catalog, err = loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEngine(cfg.Embedding, rdb, log)
	if err != nil {
		return nil, err
	}
	matcher, err := intent.NewMatcher(ctx, s.catalog, embedder, intent.Config{
		AcceptanceThreshold: cfg.Intent.AcceptanceThreshold,
		TopK:                cfg.Intent.TopK,
	}, log)
	if err != nil {
		return nil, err
	}

	// --- Reference data ---
	var source entity.Source
	switch strings.ToLower(cfg.Entity.Source) {
	case "elasticsearch":
		if s.es == nil {
			return nil, fmt.Errorf("entity.source is elasticsearch but database.elasticsearch is disabled")
		}
		source = entity.NewElasticsearchSource(s.es.Client, cfg.Database.Elasticsearch.EntityIndex)
	default:
		source = warehouse.NewReferenceSource(s.pg.DB)
	}
	if rdb != nil {
		source = entity.NewCachedSource(source, rdb, config.GetDuration(cfg.Entity.CacheTTL), logger.ForComponent(log, "reference-cache"))
	}
	s.resolver = entity.NewResolver(source, entity.Config{
		MinSimilarity: cfg.Entity.MinSimilarity,
		TieMargin:     cfg.Entity.TieMargin,
	}, log)
	if err := s.resolver.Refresh(ctx); err != nil {
		return nil, err
	}

	dateResolver, err := dates.NewResolver(cfg.Dates.FiscalYearStartMonth, cfg.Dates.Timezone)
	if err != nil {
		return nil, err
	}

	// --- Sessions ---
	idle := config.GetDuration(cfg.Session.IdleTimeout)
	var store conversation.Store
	switch strings.ToLower(cfg.Session.Store) {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("session.store is redis but database.redis is disabled")
		}
		store = conversation.NewRedisStore(rdb, idle)
	default:
		s.memStore = conversation.NewMemoryStore(idle, log)
		store = s.memStore
	}

	machine := conversation.NewMachine(s.catalog, matcher, s.resolver, dateResolver, conversation.Config{
		SwitchMargin:          cfg.Intent.SwitchMargin,
		MaxCollectionAttempts: cfg.Assistant.MaxCollectionAttempts,
		MaxRows:               cfg.Assistant.MaxRows,
		TopK:                  cfg.Intent.TopK,
	}, log)

	executor := warehouse.NewExecutor(s.pg.DB, warehouse.Config{
		Timeout: config.GetDuration(cfg.Assistant.ExecutionTimeout),
	}, log)

	s.orchestrator = orchestrator.New(s.catalog, machine, executor, store, s.obs, orchestrator.Config{
		RetryBackoff: config.GetDuration(cfg.Assistant.RetryBackoff),
		IdleTimeout:  idle,
		Format:       format.DefaultRules,
	}, log)

	log.Info("Assistant ready", map[string]interface{}{
		"templates": s.catalog.Len(),
		"embedder":  embedder.Name(),
		"sessions":  cfg.Session.Store,
		"entities":  cfg.Entity.Source,
	})
	ok = true
	return s, nil
}

// startBackground runs the reference refresher and the session janitor
// until ctx is done.
func (s *stack) startBackground(ctx context.Context) {
	s.resolver.StartRefresher(ctx, config.GetDuration(s.cfg.Entity.RefreshInterval))
	if s.memStore != nil {
		s.memStore.StartJanitor(ctx, time.Minute)
	}
}

// checks lists the dependencies /ready pings.
func (s *stack) checks() map[string]httpapi.Pinger {
	out := map[string]httpapi.Pinger{"postgres": s.pg}
	if s.redis != nil {
		out["redis"] = s.redis
	}
	if s.es != nil {
		out["elasticsearch"] = s.es
	}
	return out
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
}
