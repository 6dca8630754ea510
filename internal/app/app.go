// Package app assembles the shared components the binaries run.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/govchat/internal/agent"
	"github.com/suPer8Hu/govchat/internal/ai"
	"github.com/suPer8Hu/govchat/internal/chat"
	"github.com/suPer8Hu/govchat/internal/config"
	"github.com/suPer8Hu/govchat/internal/db"
	"github.com/suPer8Hu/govchat/internal/guardrail"
	"github.com/suPer8Hu/govchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/govchat/internal/ingest"
	"github.com/suPer8Hu/govchat/internal/knowledge"
	"github.com/suPer8Hu/govchat/internal/metrics"
	"github.com/suPer8Hu/govchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/govchat/internal/store/redisstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	_ ingest.Locker        = (*redisstore.Locker)(nil)
	_ ingest.DocumentStore = (*knowledge.Repo)(nil)
	_ ingest.Dispatcher    = (*rabbitmq.Publisher)(nil)
	_ middleware.Limiter   = (*redisstore.RateLimiter)(nil)
)

// Models are the tables every binary migrates.
var Models = []any{
	&knowledge.Document{},
	&knowledge.Chunk{},
	&chat.Session{},
	&chat.Message{},
	&ingest.Job{},
}

type App struct {
	Cfg      config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Metrics  *metrics.Metrics
	Registry *ai.Registry
	Embedder *ai.BatchEmbedder

	Docs     *knowledge.Repo
	Index    *knowledge.Index
	Jobs     *ingest.JobRepo
	Sources  *ingest.Sources
	Pipeline *ingest.Pipeline
	Runner   *ingest.Runner
	Sessions *chat.Store

	// Redis is nil when REDIS_ADDR is unset.
	Redis *redis.Client

	closers []func() error
}

// New connects the database and builds the ingestion side. The chat side is
// built on demand by ChatService since only the API needs it.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	a.closers = append(a.closers, func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := db.Migrate(gdb, Models...); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rc, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
	}

	a.Metrics = metrics.New(prometheus.NewRegistry())
	a.Registry = NewRegistry(cfg)

	inner, err := a.Registry.Embedder(ctx, cfg.EmbeddingProvider, cfg.EmbeddingModel)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Embedder = ai.NewBatchEmbedder(inner, cfg.EmbedBatchSize, cfg.EmbeddingDimensions, cfg.EmbedMaxRetries,
		ai.WithEmbedMetrics(a.Metrics),
		ai.WithEmbedLogger(log),
	)

	a.Docs = knowledge.NewRepo(gdb)
	a.Index = knowledge.NewIndex(gdb, cfg.EmbeddingDimensions, cfg.RetrievalMaxK)
	a.Jobs = ingest.NewJobRepo(gdb)
	a.Sessions = chat.NewStore(chat.NewRepo(gdb), cfg.ChatContextWindowSize)

	a.Sources, err = ingest.LoadSources(cfg.SourcesFile)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	chunker, err := ingest.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var locker ingest.Locker = ingest.NewLocalLocker()
	if a.Redis != nil {
		locker = redisstore.NewLocker(a.Redis, 2*time.Minute)
	}

	a.Pipeline = ingest.NewPipeline(ingest.Deps{
		Fetcher: ingest.NewFetcher(ingest.FetcherConfig{
			Timeout:    cfg.FetchTimeout,
			UserAgent:  cfg.UserAgent,
			Delay:      cfg.CrawlDelay,
			MaxRetries: cfg.FetchMaxRetries,
		}, ingest.WithFetchLogger(log)),
		Extractor: ingest.NewExtractor(cfg.DefaultLanguage),
		Chunker:   chunker,
		Embedder:  a.Embedder,
		Store:     a.Docs,
		Index:     a.Index,
		Locker:    locker,
		Workers:   cfg.CrawlConcurrency,
		Logger:    log,
		Metrics:   a.Metrics,
	})
	a.Runner = ingest.NewRunner(a.Jobs, a.Pipeline, a.Sources, log)
	return a, nil
}

// NewRegistry registers every generation and embedding backend cfg can name.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	pick := func(model, def string) string {
		if m := strings.TrimSpace(model); m != "" {
			return m
		}
		return def
	}

	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, pick(model, cfg.OllamaModel)), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter: OPENROUTER_API_KEY is not set")
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			pick(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("anthropic", func(_ context.Context, model string) (ai.Provider, error) {
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY is not set")
		}
		return ai.NewAnthropicProvider(cfg.AnthropicAPIKey, pick(model, cfg.AnthropicModel)), nil
	})

	reg.RegisterEmbedder("ollama", func(_ context.Context, model string) (ai.Embedder, error) {
		base := cfg.EmbeddingBaseURL
		if base == "" {
			base = cfg.OllamaBaseURL
		}
		return ai.NewOllamaProvider(base, pick(model, "bge-m3")), nil
	})
	reg.RegisterEmbedder("openai", func(_ context.Context, model string) (ai.Embedder, error) {
		if cfg.EmbeddingAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings: EMBEDDING_API_KEY is not set")
		}
		base := cfg.EmbeddingBaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return ai.NewOpenAIEmbedder(base, cfg.EmbeddingAPIKey, pick(model, "text-embedding-3-small"),
			cfg.EmbeddingDimensions, cfg.EmbedTimeout), nil
	})
	return reg
}

// ChatService builds the conversation graph on top of the shared index.
func (a *App) ChatService(ctx context.Context) (*agent.Service, error) {
	cfg := a.Cfg
	provider, err := a.Registry.Get(ctx, cfg.AIProvider, cfg.AIModel)
	if err != nil {
		return nil, err
	}

	deps := agent.Deps{
		Provider:  provider,
		Embedder:  a.Embedder,
		Index:     a.Index,
		Injection: guardrail.NewInjectionDetector(nil),
		Moderator: guardrail.NewLexiconModerator(cfg.ModerationThreshold, nil),
		Logger:    a.Log,
	}
	if cfg.TopicGuard {
		deps.Topic = guardrail.NewTopicClassifier(provider, a.Log)
	}

	g, err := agent.NewGraph(agent.Config{
		Languages:         cfg.SupportedLanguages,
		DefaultLanguage:   cfg.DefaultLanguage,
		TopK:              cfg.RetrievalTopK,
		FallbackThreshold: cfg.FallbackThreshold,
		GenerateAttempts:  cfg.GenerateRetries + 1,
		GenerateTimeout:   cfg.GenerateTimeout,
	}, deps)
	if err != nil {
		return nil, err
	}
	return agent.NewService(g, a.Sessions, cfg.HistoryMessages, a.Log, a.Metrics), nil
}

// RateLimiter is the chat limiter, nil without Redis.
func (a *App) RateLimiter() middleware.Limiter {
	if a.Redis == nil || a.Cfg.ChatRateLimit <= 0 {
		return nil
	}
	return redisstore.NewRateLimiter(a.Redis, a.Cfg.ChatRateLimit, a.Cfg.ChatRateWindow)
}

// Ping checks the database answers.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
