package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/struktura-ai/kbsearch/internal/config"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
	"github.com/struktura-ai/kbsearch/internal/core/usecase"
	memorycache "github.com/struktura-ai/kbsearch/internal/infrastructure/cache/memory"
	rediscache "github.com/struktura-ai/kbsearch/internal/infrastructure/cache/redis"
	"github.com/struktura-ai/kbsearch/internal/infrastructure/llm/ollama"
	"github.com/struktura-ai/kbsearch/internal/infrastructure/queue/nats"
	"github.com/struktura-ai/kbsearch/internal/infrastructure/repository/postgres"
	"github.com/struktura-ai/kbsearch/internal/infrastructure/rerank/cohere"
	"github.com/struktura-ai/kbsearch/internal/infrastructure/resilience"
	"github.com/struktura-ai/kbsearch/internal/infrastructure/vector/qdrant"
	"github.com/struktura-ai/kbsearch/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Search  *usecase.SearchService
	Store   *postgres.Store
	Vectors *qdrant.Client
	Events  *nats.Events
	Metrics *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := postgres.NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := store.SeedFromFile(ctx, cfg.TenantSeedPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed tenants: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:  time.Duration(cfg.OllamaTimeoutSeconds) * time.Second,
		Executor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	if err := vectors.EnsureCollection(ctx, cfg.QdrantVectorSize); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure qdrant collection: %w", err)
	}

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	var (
		cache      ports.StageCache
		redisCache *rediscache.Cache
	)
	if cfg.RedisAddr != "" {
		redisCache, err = rediscache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = redisCache
	} else {
		cache = memorycache.New(cfg.CacheSize, cacheTTL)
	}

	var rerankProvider ports.RerankProvider
	if cfg.CohereAPIKey != "" {
		rerankProvider = cohere.New(cfg.CohereBaseURL, cfg.CohereAPIKey, cfg.CohereModel)
	}

	var events *nats.Events
	if cfg.NATSURL != "" {
		events, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			if redisCache != nil {
				_ = redisCache.Close()
			}
			_ = db.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
	}

	search := usecase.NewSearchService(
		store,
		embedder,
		generator,
		vectors,
		vectors,
		rerankProvider,
		store,
		cache,
		usecase.SearchConfig{
			EnhancerTimeout: time.Duration(cfg.EnhancerTimeoutSeconds) * time.Second,
			HyDETimeout:     time.Duration(cfg.HyDETimeoutSeconds) * time.Second,
			SearchTimeout:   time.Duration(cfg.SearchTimeoutSeconds) * time.Second,
			JudgeBatchSize:  cfg.JudgeBatchSize,
			JudgeRate:       cfg.JudgeRatePerSecond,
			CacheTTL:        cacheTTL,
		},
	)

	return &App{
		Config:  cfg,
		Search:  search,
		Store:   store,
		Vectors: vectors,
		Events:  events,
		Metrics: metrics.NewHTTPServerMetrics("api"),

		closeFn: func() {
			if events != nil {
				events.Close()
			}
			if redisCache != nil {
				_ = redisCache.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
