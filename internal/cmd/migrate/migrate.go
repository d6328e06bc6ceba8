package migrate

import (
	"context"

	"github.com/aiforum/rag-service/internal/config"
	registrymigrate "github.com/aiforum/rag-service/internal/registry/migrate"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/aiforum/rag-service/internal/plugin/store/sql"
	_ "github.com/aiforum/rag-service/internal/plugin/vector/pgvector"
	_ "github.com/aiforum/rag-service/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("RAG_SERVICE_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("RAG_SERVICE_DB_KIND"),
				Usage:   "Store backend (postgres|sqlite)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("RAG_SERVICE_VECTOR_KIND"),
				Usage:   "Vector store (pgvector|qdrant|none)",
				Value:   "pgvector",
			},
			&cli.StringFlag{
				Name:    "vector-qdrant-host",
				Sources: cli.EnvVars("RAG_SERVICE_VECTOR_QDRANT_HOST", "RAG_SERVICE_QDRANT_HOST"),
				Usage:   "Qdrant host:port",
				Value:   "localhost:6334",
			},
			&cli.StringFlag{
				Name:    "embedding-kind",
				Sources: cli.EnvVars("RAG_SERVICE_EMBEDDING_KIND"),
				Usage:   "Embedding provider, used to size the vector schema",
				Value:   "openai",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.VectorType = cmd.String("vector-kind")
			cfg.QdrantHost = cmd.String("vector-qdrant-host")
			cfg.EmbedType = cmd.String("embedding-kind")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
