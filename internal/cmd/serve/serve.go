package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aiforum/rag-service/internal/config"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/aiforum/rag-service/internal/plugin/cache/memory"
	_ "github.com/aiforum/rag-service/internal/plugin/cache/noop"
	_ "github.com/aiforum/rag-service/internal/plugin/cache/redis"
	_ "github.com/aiforum/rag-service/internal/plugin/embed/disabled"
	_ "github.com/aiforum/rag-service/internal/plugin/embed/local"
	_ "github.com/aiforum/rag-service/internal/plugin/embed/openai"
	_ "github.com/aiforum/rag-service/internal/plugin/generate/echo"
	_ "github.com/aiforum/rag-service/internal/plugin/generate/httpgen"
	_ "github.com/aiforum/rag-service/internal/plugin/route/system"
	_ "github.com/aiforum/rag-service/internal/plugin/store/sql"
	_ "github.com/aiforum/rag-service/internal/plugin/vector/pgvector"
	_ "github.com/aiforum/rag-service/internal/plugin/vector/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the RAG service HTTP server and background workers",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.LoadAPIKeysFromEnv()
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Run mode (prod|testing); testing relaxes API key checks",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling on the main API server",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("RAG_SERVICE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins (empty = any)",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("RAG_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("RAG_SERVICE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("RAG_SERVICE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("RAG_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("RAG_SERVICE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("RAG_SERVICE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("RAG_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("RAG_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("RAG_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("RAG_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("RAG_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("RAG_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-hosts",
			Category:    "Cache:",
			Sources:     cli.EnvVars("RAG_SERVICE_REDIS_HOSTS"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("RAG_SERVICE_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "Time-to-live for cached retrieval results",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("RAG_SERVICE_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("RAG_SERVICE_VECTOR_QDRANT_HOST", "RAG_SERVICE_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantAddress(),
			Usage:       "Qdrant host or host:port",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-collection",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("RAG_SERVICE_VECTOR_QDRANT_COLLECTION"),
			Destination: &cfg.QdrantCollectionName,
			Value:       cfg.QdrantCollectionName,
			Usage:       "Qdrant collection name",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("RAG_SERVICE_VECTOR_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RAG_SERVICE_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RAG_SERVICE_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RAG_SERVICE_EMBEDDING_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RAG_SERVICE_EMBEDDING_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},

		// ── Generation ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "generator-kind",
			Category:    "Generation:",
			Sources:     cli.EnvVars("RAG_SERVICE_GENERATOR_KIND"),
			Destination: &cfg.GeneratorType,
			Value:       cfg.GeneratorType,
			Usage:       "Text generation backend (" + strings.Join(registrygenerate.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "generator-url",
			Category:    "Generation:",
			Sources:     cli.EnvVars("RAG_SERVICE_GENERATOR_URL"),
			Destination: &cfg.GeneratorURL,
			Usage:       "Base URL of the text generation gateway",
		},
		&cli.StringFlag{
			Name:        "generator-api-key",
			Category:    "Generation:",
			Sources:     cli.EnvVars("RAG_SERVICE_GENERATOR_API_KEY"),
			Destination: &cfg.GeneratorAPIKey,
			Usage:       "API key for the text generation gateway",
		},
		&cli.StringFlag{
			Name:        "generator-model",
			Category:    "Generation:",
			Sources:     cli.EnvVars("RAG_SERVICE_GENERATOR_MODEL"),
			Destination: &cfg.GeneratorModel,
			Value:       cfg.GeneratorModel,
			Usage:       "Model name passed to the generation gateway",
		},
		&cli.DurationFlag{
			Name:        "generator-timeout",
			Category:    "Generation:",
			Sources:     cli.EnvVars("RAG_SERVICE_GENERATOR_TIMEOUT"),
			Destination: &cfg.GeneratorTimeout,
			Value:       cfg.GeneratorTimeout,
			Usage:       "Per-request generation timeout",
		},

		// ── Retrieval ─────────────────────────────────────────────
		&cli.FloatFlag{
			Name:        "similarity-threshold",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RAG_SERVICE_SIMILARITY_THRESHOLD"),
			Destination: &cfg.SimilarityThreshold,
			Value:       cfg.SimilarityThreshold,
			Usage:       "Minimum cosine similarity for retrieved documents",
		},
		&cli.IntFlag{
			Name:        "retrieval-top-k",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RAG_SERVICE_RETRIEVAL_TOP_K"),
			Destination: &cfg.RetrievalTopK,
			Value:       cfg.RetrievalTopK,
			Usage:       "Default number of documents to retrieve per query",
		},
		&cli.IntFlag{
			Name:        "retrieval-max-fetch",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RAG_SERVICE_RETRIEVAL_MAX_FETCH"),
			Destination: &cfg.RetrievalMaxFetch,
			Value:       cfg.RetrievalMaxFetch,
			Usage:       "Hard cap on candidates fetched from the vector store per query",
		},
		&cli.IntFlag{
			Name:        "prompt-context-docs",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RAG_SERVICE_PROMPT_CONTEXT_DOCS"),
			Destination: &cfg.PromptContextDocs,
			Value:       cfg.PromptContextDocs,
			Usage:       "Maximum context documents included in the assembled prompt",
		},
		&cli.IntFlag{
			Name:        "prompt-budget",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RAG_SERVICE_PROMPT_BUDGET"),
			Destination: &cfg.PromptBudget,
			Value:       cfg.PromptBudget,
			Usage:       "Character budget for the assembled prompt",
		},

		// ── Workers ───────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "worker-count",
			Category:    "Workers:",
			Sources:     cli.EnvVars("RAG_SERVICE_WORKER_COUNT"),
			Destination: &cfg.WorkerCount,
			Value:       cfg.WorkerCount,
			Usage:       "Number of concurrent job workers",
		},
		&cli.DurationFlag{
			Name:        "worker-poll-every",
			Category:    "Workers:",
			Sources:     cli.EnvVars("RAG_SERVICE_WORKER_POLL_EVERY"),
			Destination: &cfg.WorkerPollEvery,
			Value:       cfg.WorkerPollEvery,
			Usage:       "Worker poll interval when the queue is empty",
		},
		&cli.IntFlag{
			Name:        "retry-max-attempts",
			Category:    "Workers:",
			Sources:     cli.EnvVars("RAG_SERVICE_RETRY_MAX_ATTEMPTS"),
			Destination: &cfg.RetryMaxAttempts,
			Value:       cfg.RetryMaxAttempts,
			Usage:       "Retry ceiling for transiently failing jobs",
		},
		&cli.DurationFlag{
			Name:        "retry-backoff-base",
			Category:    "Workers:",
			Sources:     cli.EnvVars("RAG_SERVICE_RETRY_BACKOFF_BASE"),
			Destination: &cfg.RetryBackoffBase,
			Value:       cfg.RetryBackoffBase,
			Usage:       "Base delay for exponential retry backoff",
		},

		// ── Knowledge Base ────────────────────────────────────────
		&cli.StringFlag{
			Name:        "knowledge-base-dir",
			Category:    "Knowledge Base:",
			Sources:     cli.EnvVars("RAG_SERVICE_KNOWLEDGE_BASE_DIR"),
			Destination: &cfg.KnowledgeBaseDir,
			Value:       cfg.KnowledgeBaseDir,
			Usage:       "Directory holding per-character persona JSON files",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("RAG_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=rag-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
