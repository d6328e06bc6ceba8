package serve

import (
	"context"
	"fmt"
	"os"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/aiforum/rag-service/internal/plugin/route/jobs"
	"github.com/aiforum/rag-service/internal/plugin/route/knowledge"
	routerag "github.com/aiforum/rag-service/internal/plugin/route/rag"
	routesystem "github.com/aiforum/rag-service/internal/plugin/route/system"
	storemetrics "github.com/aiforum/rag-service/internal/plugin/store/metrics"
	ragcore "github.com/aiforum/rag-service/internal/rag"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registrymigrate "github.com/aiforum/rag-service/internal/registry/migrate"
	registryroute "github.com/aiforum/rag-service/internal/registry/route"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/aiforum/rag-service/internal/security"
	"github.com/aiforum/rag-service/internal/service"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.Store
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.Running.Close(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting rag service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"generator", cfg.GeneratorType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize cache (optional; retrieval works uncached without it).
	var knowledgeCache registrycache.KnowledgeCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if c, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		knowledgeCache = c
	}

	// Initialize embedder and vector store (optional, for retrieval). The
	// "none" embed plugin loads a nil embedder; retrieval degrades to the
	// persona-only path.
	var embedder registryembed.Embedder
	var vectorStore registryvector.VectorStore
	if cfg.EmbedType != "" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			log.Warn("Embedder not available", "err", err)
		} else {
			embedder, err = embedLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize embedder", "err", err)
				embedder = nil
			}
		}
	}
	if cfg.VectorType != "" && cfg.VectorType != "none" {
		if embedder == nil {
			return nil, fmt.Errorf("vector store %q requires an embedding provider: set --embedding-kind to a value other than 'none'", cfg.VectorType)
		}
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			log.Warn("Vector store not available", "err", err)
		} else {
			vectorStore, err = vectorLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize vector store", "err", err)
			}
		}
	}

	// Initialize generator
	generateLoader, err := registrygenerate.Select(cfg.GeneratorType)
	if err != nil {
		return nil, err
	}
	generator, err := generateLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	// Assemble the retrieval pipeline.
	retriever := ragcore.NewRetriever(embedder, vectorStore, knowledgeCache, ragcore.RetrieverOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxFetch:            cfg.RetrievalMaxFetch,
		CacheTTL:            cfg.CacheTTL,
	})
	pipeline := ragcore.NewPipeline(store, retriever, generator, ragcore.PromptOptions{
		MaxContextDocs: cfg.PromptContextDocs,
		Budget:         cfg.PromptBudget,
	})

	// Load character personas from the knowledge base directory when present.
	if cfg.KnowledgeBaseDir != "" {
		if _, err := os.Stat(cfg.KnowledgeBaseDir); err == nil {
			ingestor := service.NewIngestor(store, embedder, vectorStore)
			n, err := ingestor.LoadPersonas(ctx, cfg.KnowledgeBaseDir)
			if err != nil {
				log.Warn("Failed to load character personas", "dir", cfg.KnowledgeBaseDir, "err", err)
			} else {
				log.Info("Loaded character personas", "dir", cfg.KnowledgeBaseDir, "count", n)
			}
		}
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.Loaders(registryroute.RouteTypeMain) {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Mount the API routes.
	auth := security.AuthMiddleware(cfg)
	routerag.MountRoutes(router, pipeline, store, vectorStore, knowledgeCache, embedder, auth)
	knowledge.MountRoutes(router, store, auth)
	jobs.MountRoutes(router, store, auth)

	// Start background services
	workers := service.NewWorkerPool(store, pipeline, cfg.WorkerCount, cfg.WorkerPollEvery, cfg.RetryMaxAttempts, cfg.RetryBackoffBase)
	go workers.Start(ctx)

	indexer := service.NewBackgroundIndexer(store, embedder, vectorStore, 0)
	go indexer.Start(ctx)

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router so single-port behaviour is unchanged.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.Loaders(registryroute.RouteTypeManagement) {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.Loaders(registryroute.RouteTypeManagement) {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	// Start the HTTP listener.
	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}
