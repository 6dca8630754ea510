package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/lang"
)

type Config struct {
	HTTPAddr string
	LogLevel string
	LogDev   bool

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// admin auth
	JWTSecret         string
	AdminPasswordHash string
	AdminTokenTTL     time.Duration

	// chat
	ChatContextWindowSize int
	HistoryMessages       int
	ChatRateLimit         int
	ChatRateWindow        time.Duration

	// AI provider
	AIProvider        string
	AIModel           string
	GenerateRetries   int
	GenerateTimeout   time.Duration
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	AnthropicAPIKey   string
	AnthropicModel    string

	// embeddings
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingDimensions int
	EmbedBatchSize      int
	EmbedMaxRetries     int
	EmbedTimeout        time.Duration

	// retrieval
	RetrievalTopK      int
	RetrievalMaxK      int
	FallbackThreshold  float64
	SupportedLanguages []string
	DefaultLanguage    string

	// guardrails
	ModerationThreshold float64
	TopicGuard          bool

	// ingestion
	ChunkSize        int
	ChunkOverlap     int
	CrawlDelay       time.Duration
	CrawlConcurrency int
	FetchTimeout     time.Duration
	FetchMaxRetries  int
	UserAgent        string
	SourcesFile      string
	IngestCron       string

	// rabbitMQ
	RabbitURL   string
	RabbitQueue string
}

// Load reads a .env file when one exists, then the environment.
func Load() Config {
	_ = godotenv.Load()

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/govchat?charset=utf8mb4&parseTime=true&loc=Local
	driver := str("DB_DRIVER", "sqlite")
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		if driver == "mysql" {
			dsn = "app:apppass@tcp(127.0.0.1:3306)/govchat?charset=utf8mb4&parseTime=true&loc=Local"
		} else {
			dsn = "govchat.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		}
	}

	languages := strings.Split(str("SUPPORTED_LANGUAGES", "en,fr"), ",")
	supported := make([]string, 0, len(languages))
	for _, l := range languages {
		if l = lang.Normalize(l); l != "" {
			supported = append(supported, l)
		}
	}

	return Config{
		HTTPAddr: str("HTTP_ADDR", ":8080"),
		LogLevel: str("LOG_LEVEL", "info"),
		LogDev:   boolean("LOG_DEV", false),

		DBDriver: driver,
		DBDSN:    dsn,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       integer("REDIS_DB", 0),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AdminTokenTTL:     duration("ADMIN_TOKEN_TTL", 12*time.Hour),

		ChatContextWindowSize: integer("CHAT_CONTEXT_WINDOW_SIZE", 20),
		HistoryMessages:       integer("CHAT_HISTORY_MESSAGES", 10),
		ChatRateLimit:         integer("CHAT_RATE_LIMIT", 30),
		ChatRateWindow:        duration("CHAT_RATE_WINDOW", time.Minute),

		AIProvider:        str("AI_PROVIDER", "ollama"),
		AIModel:           os.Getenv("AI_MODEL"),
		GenerateRetries:   integer("GENERATE_MAX_RETRIES", 2),
		GenerateTimeout:   duration("GENERATE_TIMEOUT", 90*time.Second),
		OllamaBaseURL:     str("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       str("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: str("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   str("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    str("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		EmbeddingProvider:   str("EMBEDDING_PROVIDER", "ollama"),
		EmbeddingModel:      str("EMBEDDING_MODEL", "bge-m3"),
		EmbeddingBaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingAPIKey:     os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingDimensions: integer("EMBEDDING_DIMENSIONS", 1024),
		EmbedBatchSize:      integer("EMBED_BATCH_SIZE", 32),
		EmbedMaxRetries:     integer("EMBED_MAX_RETRIES", 5),
		EmbedTimeout:        duration("EMBED_TIMEOUT", 60*time.Second),

		RetrievalTopK:      integer("RETRIEVAL_TOP_K", 5),
		RetrievalMaxK:      integer("RETRIEVAL_MAX_K", 20),
		FallbackThreshold:  float("RETRIEVAL_FALLBACK_THRESHOLD", 0.35),
		SupportedLanguages: supported,
		DefaultLanguage:    lang.Normalize(str("DEFAULT_LANGUAGE", "en")),

		ModerationThreshold: float("MODERATION_THRESHOLD", 0.8),
		TopicGuard:          boolean("TOPIC_GUARD", false),

		ChunkSize:        integer("CHUNK_SIZE", 1000),
		ChunkOverlap:     integer("CHUNK_OVERLAP", 200),
		CrawlDelay:       duration("CRAWL_DELAY", time.Second),
		CrawlConcurrency: integer("CRAWL_CONCURRENCY", 4),
		FetchTimeout:     duration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxRetries:  integer("FETCH_MAX_RETRIES", 3),
		UserAgent:        str("CRAWL_USER_AGENT", "Canada.ca-ChatBot/1.0"),
		SourcesFile:      os.Getenv("SOURCES_FILE"),
		IngestCron:       os.Getenv("INGEST_CRON"),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: str("RABBIT_QUEUE", "ingest_jobs"),
	}
}

// Validate rejects settings the services cannot start with.
func (c Config) Validate() error {
	switch {
	case c.DBDriver != "sqlite" && c.DBDriver != "mysql":
		return common.Configf("unsupported DB_DRIVER=%q", c.DBDriver)
	case c.ChunkSize <= 0:
		return common.Configf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return common.Configf("CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	case c.EmbeddingDimensions <= 0:
		return common.Configf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	case c.EmbedBatchSize <= 0:
		return common.Configf("EMBED_BATCH_SIZE must be positive, got %d", c.EmbedBatchSize)
	case c.RetrievalMaxK <= 0 || c.RetrievalTopK <= 0 || c.RetrievalTopK > c.RetrievalMaxK:
		return common.Configf("RETRIEVAL_TOP_K must be in [1, %d], got %d", c.RetrievalMaxK, c.RetrievalTopK)
	case c.ModerationThreshold <= 0 || c.ModerationThreshold > 1:
		return common.Configf("MODERATION_THRESHOLD must be in (0, 1], got %v", c.ModerationThreshold)
	case len(c.SupportedLanguages) == 0:
		return common.Configf("SUPPORTED_LANGUAGES is empty")
	case !lang.Supported(c.DefaultLanguage, c.SupportedLanguages):
		return common.Configf("DEFAULT_LANGUAGE %q is not in SUPPORTED_LANGUAGES", c.DefaultLanguage)
	case c.CrawlConcurrency <= 0:
		return common.Configf("CRAWL_CONCURRENCY must be positive, got %d", c.CrawlConcurrency)
	case c.CrawlDelay < 0:
		return common.Configf("CRAWL_DELAY must not be negative")
	case c.AdminPasswordHash != "" && c.JWTSecret == "":
		return common.Configf("JWT_SECRET is required when ADMIN_PASSWORD_HASH is set")
	}
	return nil
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func integer(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func float(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolean(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
