package ingest

import (
	"context"
	"fmt"

	"github.com/aiforum/rag-service/internal/config"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registrymigrate "github.com/aiforum/rag-service/internal/registry/migrate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/aiforum/rag-service/internal/service"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration
	_ "github.com/aiforum/rag-service/internal/plugin/embed/disabled"
	_ "github.com/aiforum/rag-service/internal/plugin/embed/local"
	_ "github.com/aiforum/rag-service/internal/plugin/embed/openai"
	_ "github.com/aiforum/rag-service/internal/plugin/store/sql"
	_ "github.com/aiforum/rag-service/internal/plugin/vector/pgvector"
	_ "github.com/aiforum/rag-service/internal/plugin/vector/qdrant"
)

// Command returns the ingest sub-command. It loads character persona files and
// a forum corpus export into the datastore and vector store.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var corpusPath string
	var personasDir string
	var replace bool
	return &cli.Command{
		Name:  "ingest",
		Usage: "Load character personas and forum corpus into the knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("RAG_SERVICE_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Database connection URL",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("RAG_SERVICE_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Store backend (postgres|sqlite)",
			},
			&cli.StringFlag{
				Name:        "vector-kind",
				Sources:     cli.EnvVars("RAG_SERVICE_VECTOR_KIND"),
				Destination: &cfg.VectorType,
				Value:       cfg.VectorType,
				Usage:       "Vector store (pgvector|qdrant|none)",
			},
			&cli.StringFlag{
				Name:        "vector-qdrant-host",
				Sources:     cli.EnvVars("RAG_SERVICE_VECTOR_QDRANT_HOST", "RAG_SERVICE_QDRANT_HOST"),
				Destination: &cfg.QdrantHost,
				Value:       cfg.QdrantAddress(),
				Usage:       "Qdrant host or host:port",
			},
			&cli.StringFlag{
				Name:        "embedding-kind",
				Sources:     cli.EnvVars("RAG_SERVICE_EMBEDDING_KIND"),
				Destination: &cfg.EmbedType,
				Value:       cfg.EmbedType,
				Usage:       "Embedding provider (openai|local|none)",
			},
			&cli.StringFlag{
				Name:        "embedding-openai-api-key",
				Sources:     cli.EnvVars("RAG_SERVICE_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY"),
				Destination: &cfg.OpenAIAPIKey,
				Usage:       "OpenAI API key",
			},
			&cli.StringFlag{
				Name:        "corpus",
				Destination: &corpusPath,
				Usage:       "Path to a forum corpus JSON export",
			},
			&cli.StringFlag{
				Name:        "personas",
				Destination: &personasDir,
				Usage:       "Directory holding per-character persona JSON files",
			},
			&cli.BoolFlag{
				Name:        "replace",
				Destination: &replace,
				Usage:       "Delete each character's existing documents before ingesting the corpus",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if corpusPath == "" && personasDir == "" {
				return fmt.Errorf("nothing to do: pass --corpus and/or --personas")
			}
			ctx = config.WithContext(ctx, &cfg)

			if err := registrymigrate.RunAll(ctx); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}

			storeLoader, err := registrystore.Select(cfg.DatastoreType)
			if err != nil {
				return err
			}
			store, err := storeLoader(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			var embedder registryembed.Embedder
			var vectorStore registryvector.VectorStore
			if corpusPath != "" {
				embedLoader, err := registryembed.Select(cfg.EmbedType)
				if err != nil {
					return err
				}
				if embedder, err = embedLoader(ctx); err != nil {
					return fmt.Errorf("failed to initialize embedder: %w", err)
				}
				if embedder == nil {
					return fmt.Errorf("corpus ingestion requires an embedding provider, not %q", cfg.EmbedType)
				}
				vectorLoader, err := registryvector.Select(cfg.VectorType)
				if err != nil {
					return err
				}
				if vectorStore, err = vectorLoader(ctx); err != nil {
					return fmt.Errorf("failed to initialize vector store: %w", err)
				}
			}

			ingestor := service.NewIngestor(store, embedder, vectorStore)

			if personasDir != "" {
				n, err := ingestor.LoadPersonas(ctx, personasDir)
				if err != nil {
					return err
				}
				log.Info("Loaded character personas", "dir", personasDir, "count", n)
			}
			if corpusPath != "" {
				n, err := ingestor.IngestCorpus(ctx, corpusPath, replace)
				if err != nil {
					return err
				}
				log.Info("Ingested corpus documents", "path", corpusPath, "count", n)
			}
			return nil
		},
	}
}
