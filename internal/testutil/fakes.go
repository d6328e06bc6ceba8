// Package testutil provides in-memory fakes for the plugin interfaces and a
// SQLite-backed store helper for tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/google/uuid"
)

// FakeEmbedder returns deterministic embeddings derived from the input text.
type FakeEmbedder struct {
	Dim   int
	Err   error
	Calls int
}

func (e *FakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = float32(sum[j%len(sum)]) / 255
		}
		out[i] = vec
	}
	return out, nil
}

func (e *FakeEmbedder) ModelName() string { return "fake-embedder" }

func (e *FakeEmbedder) Dimension() int {
	if e.Dim <= 0 {
		return 8
	}
	return e.Dim
}

// FakeVectorStore keeps documents in memory keyed by source message id. When
// Results is set, Search returns those verbatim; otherwise it scores the
// inserted documents by cosine similarity against the query embedding. Either
// way the owner predicate is ignored, so tests can exercise the retriever's
// post-filter against a misbehaving backend.
type FakeVectorStore struct {
	mu      sync.Mutex
	docs    map[string]registryvector.InsertRequest
	Results []registryvector.SearchResult
	Err     error

	// LastSearchLimit records the limit of the most recent Search call.
	LastSearchLimit int
	SearchCalls     int
	Disabled        bool
}

func NewFakeVectorStore() *FakeVectorStore {
	return &FakeVectorStore{docs: map[string]registryvector.InsertRequest{}}
}

func (v *FakeVectorStore) Search(_ context.Context, embedding []float32, _ string, limit int, threshold float64) ([]registryvector.SearchResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.SearchCalls++
	v.LastSearchLimit = limit
	if v.Err != nil {
		return nil, v.Err
	}
	candidates := v.Results
	if candidates == nil {
		candidates = v.scoreDocs(embedding)
	}
	var out []registryvector.SearchResult
	for _, r := range candidates {
		if r.Similarity >= threshold {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// scoreDocs ranks every stored document by cosine similarity to the query
// embedding, highest first. Callers hold v.mu.
func (v *FakeVectorStore) scoreDocs(embedding []float32) []registryvector.SearchResult {
	results := make([]registryvector.SearchResult, 0, len(v.docs))
	for _, doc := range v.docs {
		results = append(results, registryvector.SearchResult{
			ID:         uuid.New(),
			Owner:      doc.Owner,
			Content:    doc.Content,
			Similarity: cosine(embedding, doc.Embedding),
			Metadata:   doc.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (v *FakeVectorStore) InsertDocuments(_ context.Context, docs []registryvector.InsertRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return v.Err
	}
	for _, doc := range docs {
		v.docs[doc.SourceMessageID] = doc
	}
	return nil
}

func (v *FakeVectorStore) DeleteByOwner(_ context.Context, owner string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, doc := range v.docs {
		if model.NormalizeCharacter(doc.Owner) == model.NormalizeCharacter(owner) {
			delete(v.docs, key)
		}
	}
	return nil
}

func (v *FakeVectorStore) CountDocuments(_ context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return int64(len(v.docs)), nil
}

func (v *FakeVectorStore) CountDocumentsByOwner(_ context.Context, owner string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var n int64
	for _, doc := range v.docs {
		if model.NormalizeCharacter(doc.Owner) == model.NormalizeCharacter(owner) {
			n++
		}
	}
	return n, nil
}

func (v *FakeVectorStore) IsEnabled() bool { return !v.Disabled }
func (v *FakeVectorStore) Name() string    { return "fake" }

// Doc returns the stored insert request for a source message id.
func (v *FakeVectorStore) Doc(sourceMessageID string) (registryvector.InsertRequest, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	doc, ok := v.docs[sourceMessageID]
	return doc, ok
}

// Result builds a search result owned by the given character.
func Result(owner, content string, similarity float64) registryvector.SearchResult {
	return registryvector.SearchResult{
		ID:         uuid.New(),
		Owner:      owner,
		Content:    content,
		Similarity: similarity,
	}
}

// FakeCache is a map-backed KnowledgeCache with an injectable clock so TTL
// behavior is testable without sleeping.
type FakeCache struct {
	mu      sync.Mutex
	entries map[string]fakeCacheEntry
	Offline bool
	Now     func() time.Time

	Hits   int
	Misses int
	Sets   int
}

type fakeCacheEntry struct {
	value     registrycache.CachedRetrieval
	expiresAt time.Time
}

func NewFakeCache() *FakeCache {
	return &FakeCache{entries: map[string]fakeCacheEntry{}, Now: time.Now}
}

func (c *FakeCache) Available() bool { return !c.Offline }

func (c *FakeCache) Get(_ context.Context, character, fingerprint string) (*registrycache.CachedRetrieval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[character+":"+fingerprint]
	if !ok || c.Now().After(entry.expiresAt) {
		c.Misses++
		return nil, nil
	}
	c.Hits++
	value := entry.value
	return &value, nil
}

func (c *FakeCache) Set(_ context.Context, character, fingerprint string, value registrycache.CachedRetrieval, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	c.Sets++
	c.entries[character+":"+fingerprint] = fakeCacheEntry{value: value, expiresAt: c.Now().Add(ttl)}
	return nil
}

func (c *FakeCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]fakeCacheEntry{}
	return nil
}

// FakeGenerator returns a canned reply or error.
type FakeGenerator struct {
	Reply string
	Err   error
	Calls int

	// LastPrompt records the prompt of the most recent Generate call.
	LastPrompt string
}

func (g *FakeGenerator) Generate(_ context.Context, req registrygenerate.Request) (registrygenerate.Result, error) {
	g.Calls++
	g.LastPrompt = req.Prompt
	if g.Err != nil {
		return registrygenerate.Result{}, g.Err
	}
	reply := g.Reply
	if reply == "" {
		reply = "generated reply"
	}
	return registrygenerate.Result{Content: reply}, nil
}

func (g *FakeGenerator) Name() string { return "fake" }
