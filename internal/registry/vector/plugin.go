package vector

import (
	"context"
	"fmt"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/google/uuid"
)

// SearchResult is a single vector search hit. Similarity is cosine similarity
// in [-1, 1], already converted from distance by the backend.
type SearchResult struct {
	ID         uuid.UUID      `json:"id"`
	Owner      string         `json:"owner"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Document returns the search result as a retrieved knowledge document.
func (r SearchResult) Document() model.RetrievedDocument {
	return model.RetrievedDocument{
		Document: model.KnowledgeDocument{
			ID:       r.ID,
			Owner:    r.Owner,
			Content:  r.Content,
			Metadata: r.Metadata,
		},
		Similarity: r.Similarity,
	}
}

// InsertRequest holds the data for a single document upsert. SourceMessageID
// is the natural de-duplication key: re-inserting the same source record
// must not create a second document.
type InsertRequest struct {
	SourceMessageID string
	Owner           string
	Content         string
	Embedding       []float32
	Metadata        map[string]any
	ModelName       string
}

// VectorStore defines the interface for vector search backends.
type VectorStore interface {
	// Search performs a cosine-similarity search. When owner is non-empty it is
	// applied as a hard predicate in the backend; results below threshold are
	// excluded. Backend unavailability is an error, never an empty result.
	Search(ctx context.Context, embedding []float32, owner string, limit int, threshold float64) ([]SearchResult, error)
	// InsertDocuments upserts a batch of documents keyed by source message id.
	InsertDocuments(ctx context.Context, docs []InsertRequest) error
	// DeleteByOwner removes all documents owned by a character (bulk re-ingestion).
	DeleteByOwner(ctx context.Context, owner string) error
	// CountDocuments returns the total number of stored documents.
	CountDocuments(ctx context.Context) (int64, error)
	// CountDocumentsByOwner returns the number of documents owned by a character.
	CountDocumentsByOwner(ctx context.Context, owner string) (int64, error)
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "pgvector", "qdrant").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
