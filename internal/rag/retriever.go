package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/aiforum/rag-service/internal/security"
	"github.com/charmbracelet/log"
)

const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// document to count as relevant.
	DefaultSimilarityThreshold = 0.7
	// defaultMaxFetch caps how many candidates are pulled from the vector
	// store before post-filtering.
	defaultMaxFetch = 50
)

// RetrieverOptions tunes retrieval behavior. Zero values fall back to defaults.
type RetrieverOptions struct {
	SimilarityThreshold float64
	// MaxFetch is the hard cap on candidates fetched per query.
	MaxFetch int
	// CacheTTL overrides the cache's default entry TTL when positive.
	CacheTTL time.Duration
}

// Retriever finds the knowledge documents of one character that are relevant
// to a query. Ownership filtering happens twice: the vector backend applies
// it as a search predicate, and GetRelevantDocuments post-filters again. The
// post-filter is the authoritative enforcement point.
type Retriever struct {
	embedder  registryembed.Embedder
	vectors   registryvector.VectorStore
	cache     registrycache.KnowledgeCache
	threshold float64
	maxFetch  int
	cacheTTL  time.Duration
}

// NewRetriever wires a retriever from the loaded plugins.
func NewRetriever(embedder registryembed.Embedder, vectors registryvector.VectorStore, cache registrycache.KnowledgeCache, opts RetrieverOptions) *Retriever {
	threshold := opts.SimilarityThreshold
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}
	maxFetch := opts.MaxFetch
	if maxFetch <= 0 {
		maxFetch = defaultMaxFetch
	}
	return &Retriever{
		embedder:  embedder,
		vectors:   vectors,
		cache:     cache,
		threshold: threshold,
		maxFetch:  maxFetch,
		cacheTTL:  opts.CacheTTL,
	}
}

// GetRelevantDocuments returns up to topK documents owned by character,
// ordered by descending similarity. An empty result is not an error; backend
// unavailability is.
func (r *Retriever) GetRelevantDocuments(ctx context.Context, query, character string, topK int) ([]model.RetrievedDocument, error) {
	return r.GetRelevantDocumentsWithThreshold(ctx, query, character, topK, r.threshold)
}

// GetRelevantDocumentsWithThreshold is GetRelevantDocuments with a caller
// supplied similarity threshold.
func (r *Retriever) GetRelevantDocumentsWithThreshold(ctx context.Context, query, character string, topK int, threshold float64) ([]model.RetrievedDocument, error) {
	if security.RetrievalLatency != nil {
		defer func(start time.Time) {
			security.RetrievalLatency.Observe(time.Since(start).Seconds())
		}(time.Now())
	}

	owner := model.NormalizeCharacter(character)
	if owner == "" {
		return nil, fmt.Errorf("character is required")
	}
	if topK <= 0 {
		return nil, nil
	}
	// Degraded deployments run without an embedder or vector store. Retrieval
	// then yields nothing and callers fall back to the persona-only prompt.
	if r.embedder == nil || r.vectors == nil || !r.vectors.IsEnabled() {
		return nil, nil
	}

	fingerprint := Fingerprint(query)
	if r.cache != nil && r.cache.Available() && threshold == r.threshold {
		cached, err := r.cache.Get(ctx, owner, fingerprint)
		if err != nil {
			log.Warn("Knowledge cache read failed", "character", owner, "err", err)
		} else if cached != nil {
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			return truncateDocs(filterByOwner(cached.Documents, owner), topK), nil
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
	}

	embeddings, err := r.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	// Over-fetch to compensate for post-filtering loss.
	fetchLimit := topK * 3
	if fetchLimit > r.maxFetch {
		fetchLimit = r.maxFetch
	}
	results, err := r.vectors.Search(ctx, embeddings[0], owner, fetchLimit, threshold)
	if err != nil {
		return nil, err
	}

	docs := make([]model.RetrievedDocument, 0, len(results))
	for _, res := range results {
		docs = append(docs, res.Document())
	}
	docs = filterByOwner(docs, owner)

	if r.cache != nil && r.cache.Available() && threshold == r.threshold {
		entry := registrycache.CachedRetrieval{
			Documents: docs,
			Model:     r.embedder.ModelName(),
			CachedAt:  time.Now(),
		}
		if err := r.cache.Set(ctx, owner, fingerprint, entry, r.cacheTTL); err != nil {
			log.Warn("Knowledge cache write failed", "character", owner, "err", err)
		}
	}

	return truncateDocs(docs, topK), nil
}

// filterByOwner drops every document whose normalized owner differs from the
// requested character. This guards against leakage even when the backend
// ignored or mishandled its owner predicate.
func filterByOwner(docs []model.RetrievedDocument, owner string) []model.RetrievedDocument {
	filtered := make([]model.RetrievedDocument, 0, len(docs))
	for _, doc := range docs {
		if model.NormalizeCharacter(doc.Document.Owner) == owner {
			filtered = append(filtered, doc)
		}
	}
	return filtered
}

func truncateDocs(docs []model.RetrievedDocument, topK int) []model.RetrievedDocument {
	if len(docs) > topK {
		return docs[:topK]
	}
	return docs
}
