package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the RAG service.
type Config struct {
	// Mode controls auth behavior: "prod" (default) or "testing".
	// In testing mode API key validation is relaxed.
	Mode string

	// Database
	DBURL string

	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Cache backend type: "redis", "memory", or "none".
	CacheType string

	// Redis
	RedisURL string

	// TTL for cached retrieval results.
	CacheTTL time.Duration

	// Maximum cost (bytes) for the in-process memory cache.
	CacheMemoryMaxBytes int64

	// Vector store type: "pgvector", "qdrant", or "" (disabled).
	VectorType string

	// Run vector migrations on startup.
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantCollectionName string
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Embedding type: "openai", "local", or "none".
	EmbedType string

	// OpenAI embeddings
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Generator type: "http" or "echo".
	GeneratorType string

	// Text-generation backend
	GeneratorURL     string
	GeneratorAPIKey  string
	GeneratorModel   string
	GeneratorTimeout time.Duration

	// Retrieval defaults
	SimilarityThreshold float64
	RetrievalTopK       int
	RetrievalMaxFetch   int

	// Prompt assembly
	PromptContextDocs int
	PromptBudget      int

	// Directory holding per-character persona JSON files.
	KnowledgeBaseDir string

	// Worker pool
	WorkerCount       int
	WorkerPollEvery   time.Duration
	RetryMaxAttempts  int
	RetryBackoffBase  time.Duration

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints
	// (/health, /ready, /metrics). Disabled by default to suppress probe noise.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// APIKeys maps API key values to client IDs (RAG_SERVICE_API_KEYS_<CLIENT_ID>=<key>).
	APIKeys map[string]string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		CacheTTL:                300 * time.Second,
		CacheMemoryMaxBytes:     64 * 1024 * 1024,
		VectorType:              "pgvector",
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollectionName:    "character-knowledge",
		QdrantStartupTimeout:    30 * time.Second,
		EmbedType:               "openai",
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		GeneratorType:           "http",
		GeneratorModel:          "gemma3:latest",
		GeneratorTimeout:        120 * time.Second,
		SimilarityThreshold:     0.7,
		RetrievalTopK:           10,
		RetrievalMaxFetch:       50,
		PromptContextDocs:       5,
		PromptBudget:            8000,
		KnowledgeBaseDir:        "knowledge_base",
		WorkerCount:             4,
		WorkerPollEvery:         2 * time.Second,
		RetryMaxAttempts:        3,
		RetryBackoffBase:        30 * time.Second,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:    1 * 1024 * 1024,
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
	}
}

// LoadAPIKeysFromEnv populates APIKeys from RAG_SERVICE_API_KEYS_<CLIENT_ID>=<key>
// environment variables. Client IDs are lowercased.
func (c *Config) LoadAPIKeysFromEnv() {
	const prefix = "RAG_SERVICE_API_KEYS_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		clientID := strings.ToLower(strings.TrimPrefix(name, prefix))
		if clientID == "" {
			continue
		}
		if c.APIKeys == nil {
			c.APIKeys = map[string]string{}
		}
		c.APIKeys[value] = clientID
	}
}

// QdrantAddress returns the host:port the Qdrant gRPC client should dial.
// A QdrantHost that already carries a port wins over QdrantPort.
func (c *Config) QdrantAddress() string {
	host := strings.TrimSpace(c.QdrantHost)
	if strings.Contains(host, ":") {
		return host
	}
	port := c.QdrantPort
	if port == 0 {
		port = 6334
	}
	return host + ":" + strconv.Itoa(port)
}

// EmbeddingDimension returns the vector dimension implied by the embedding config.
func (c *Config) EmbeddingDimension() int {
	if c.OpenAIDimensions > 0 {
		return c.OpenAIDimensions
	}
	switch strings.ToLower(strings.TrimSpace(c.EmbedType)) {
	case "local":
		return 384
	default:
		return 1536
	}
}
