package pgvector

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/aiforum/rag-service/internal/model"
	registrymigrate "github.com/aiforum/rag-service/internal/registry/migrate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/charmbracelet/log"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(pgvectorSchemaSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorStore{db: db}, nil
}

// PgvectorStore implements VectorStore using the pgvector extension.
type PgvectorStore struct {
	db *gorm.DB
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, owner string, limit int, threshold float64) ([]registryvector.SearchResult, error) {
	vec := pgvec.NewVector(embedding)
	owner = model.NormalizeCharacter(owner)
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, owner, content, metadata,
		       1 - (embedding <=> ?::vector) AS similarity
		FROM knowledge_documents
		WHERE (?::text = '' OR owner = ?)
		  AND 1 - (embedding <=> ?::vector) > ?
		ORDER BY embedding <=> ?::vector
		LIMIT ?`,
		vec, owner, owner, vec, threshold, vec, limit,
	).Rows()
	if err != nil {
		return nil, &registrystore.UnavailableError{Backend: "pgvector", Err: err}
	}
	defer rows.Close()

	var results []registryvector.SearchResult
	for rows.Next() {
		var r registryvector.SearchResult
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Owner, &r.Content, &metadata, &r.Similarity); err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				log.Error("pgvector metadata decode error", "id", r.ID, "err", err)
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *PgvectorStore) InsertDocuments(ctx context.Context, docs []registryvector.InsertRequest) error {
	for _, d := range docs {
		vec := pgvec.NewVector(d.Embedding)
		metadata, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector: encode metadata for %s: %w", d.SourceMessageID, err)
		}
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO knowledge_documents (source_message_id, owner, content, embedding, metadata, model)
			VALUES (?, ?, ?, ?::vector, ?::jsonb, ?)
			ON CONFLICT (source_message_id)
			DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding,
			              metadata = EXCLUDED.metadata, model = EXCLUDED.model`,
			d.SourceMessageID, model.NormalizeCharacter(d.Owner), d.Content, vec, string(metadata), d.ModelName,
		).Error; err != nil {
			return &registrystore.UnavailableError{Backend: "pgvector", Err: err}
		}
	}
	return nil
}

func (s *PgvectorStore) DeleteByOwner(ctx context.Context, owner string) error {
	err := s.db.WithContext(ctx).Exec(
		"DELETE FROM knowledge_documents WHERE owner = ?",
		model.NormalizeCharacter(owner),
	).Error
	if err != nil {
		return &registrystore.UnavailableError{Backend: "pgvector", Err: err}
	}
	return nil
}

func (s *PgvectorStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw("SELECT count(*) FROM knowledge_documents").Scan(&count).Error
	if err != nil {
		return 0, &registrystore.UnavailableError{Backend: "pgvector", Err: err}
	}
	return count, nil
}

func (s *PgvectorStore) CountDocumentsByOwner(ctx context.Context, owner string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		"SELECT count(*) FROM knowledge_documents WHERE owner = ?",
		model.NormalizeCharacter(owner),
	).Scan(&count).Error
	if err != nil {
		return 0, &registrystore.UnavailableError{Backend: "pgvector", Err: err}
	}
	return count, nil
}
