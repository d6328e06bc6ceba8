package rag_test

import (
	"context"
	"testing"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/rag"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/aiforum/rag-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieverFiltersForeignOwners(t *testing.T) {
	// The backend misbehaves and returns documents owned by another character.
	vectors := testutil.NewFakeVectorStore()
	vectors.Results = []registryvector.SearchResult{
		testutil.Result("alaev", "alaev doc", 0.95),
		testutil.Result("sly32", "leaked doc", 0.93),
		testutil.Result("Alaev", "alaev doc 2", 0.88),
	}
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, nil, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocuments(context.Background(), "query", "alaev", 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, "alaev", model.NormalizeCharacter(doc.Document.Owner))
		assert.NotEqual(t, "leaked doc", doc.Document.Content)
	}
}

func TestRetrieverAppliesThreshold(t *testing.T) {
	vectors := testutil.NewFakeVectorStore()
	vectors.Results = []registryvector.SearchResult{
		testutil.Result("alaev", "relevant", 0.81),
		testutil.Result("alaev", "irrelevant", 0.42),
	}
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, nil, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocuments(context.Background(), "query", "alaev", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "relevant", docs[0].Document.Content)
}

func TestRetrieverTruncatesToTopK(t *testing.T) {
	vectors := testutil.NewFakeVectorStore()
	for i := 0; i < 10; i++ {
		vectors.Results = append(vectors.Results, testutil.Result("alaev", "doc", 0.9))
	}
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, nil, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocuments(context.Background(), "query", "alaev", 3)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	// Over-fetch is 3x topK to absorb post-filter loss.
	assert.Equal(t, 9, vectors.LastSearchLimit)
}

func TestRetrieverOverfetchCapped(t *testing.T) {
	vectors := testutil.NewFakeVectorStore()
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, nil, rag.RetrieverOptions{MaxFetch: 20})

	_, err := r.GetRelevantDocuments(context.Background(), "query", "alaev", 10)
	require.NoError(t, err)
	assert.Equal(t, 20, vectors.LastSearchLimit)
}

func TestRetrieverRequiresCharacter(t *testing.T) {
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, testutil.NewFakeVectorStore(), nil, rag.RetrieverOptions{})
	_, err := r.GetRelevantDocuments(context.Background(), "query", "  ", 5)
	assert.Error(t, err)
}

func TestRetrieverZeroTopK(t *testing.T) {
	embedder := &testutil.FakeEmbedder{}
	r := rag.NewRetriever(embedder, testutil.NewFakeVectorStore(), nil, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocuments(context.Background(), "query", "alaev", 0)
	require.NoError(t, err)
	assert.Nil(t, docs)
	assert.Zero(t, embedder.Calls)
}

func TestRetrieverWithoutBackendsReturnsNothing(t *testing.T) {
	// Degraded deployments have neither an embedder nor a vector store.
	r := rag.NewRetriever(nil, nil, nil, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocuments(context.Background(), "Что думаешь о водителях?", "alaev", 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetrieverDisabledVectorStoreSkipsEmbedding(t *testing.T) {
	embedder := &testutil.FakeEmbedder{}
	vectors := testutil.NewFakeVectorStore()
	vectors.Disabled = true
	r := rag.NewRetriever(embedder, vectors, nil, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocuments(context.Background(), "query", "alaev", 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, embedder.Calls)
	assert.Zero(t, vectors.SearchCalls)
}

func TestRetrieverCacheHitSkipsBackend(t *testing.T) {
	embedder := &testutil.FakeEmbedder{}
	vectors := testutil.NewFakeVectorStore()
	vectors.Results = []registryvector.SearchResult{testutil.Result("alaev", "doc", 0.9)}
	cache := testutil.NewFakeCache()
	r := rag.NewRetriever(embedder, vectors, cache, rag.RetrieverOptions{})

	ctx := context.Background()
	first, err := r.GetRelevantDocuments(ctx, "same query", "alaev", 5)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, cache.Sets)

	second, err := r.GetRelevantDocuments(ctx, "same query", "alaev", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, embedder.Calls)
	assert.Equal(t, 1, vectors.SearchCalls)
	assert.Equal(t, 1, cache.Hits)
}

func TestRetrieverCacheExpiry(t *testing.T) {
	now := time.Now()
	cache := testutil.NewFakeCache()
	cache.Now = func() time.Time { return now }

	embedder := &testutil.FakeEmbedder{}
	vectors := testutil.NewFakeVectorStore()
	vectors.Results = []registryvector.SearchResult{testutil.Result("alaev", "doc", 0.9)}
	r := rag.NewRetriever(embedder, vectors, cache, rag.RetrieverOptions{CacheTTL: 300 * time.Second})

	ctx := context.Background()
	_, err := r.GetRelevantDocuments(ctx, "q", "alaev", 5)
	require.NoError(t, err)

	// Within the TTL the entry is served from cache.
	now = now.Add(299 * time.Second)
	_, err = r.GetRelevantDocuments(ctx, "q", "alaev", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, vectors.SearchCalls)

	// Past the TTL the entry is a miss and the backend is consulted again.
	now = now.Add(2 * time.Second)
	_, err = r.GetRelevantDocuments(ctx, "q", "alaev", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, vectors.SearchCalls)
}

func TestRetrieverCacheIsPerCharacter(t *testing.T) {
	cache := testutil.NewFakeCache()
	vectors := testutil.NewFakeVectorStore()
	vectors.Results = []registryvector.SearchResult{testutil.Result("alaev", "alaev doc", 0.9)}
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, cache, rag.RetrieverOptions{})

	ctx := context.Background()
	_, err := r.GetRelevantDocuments(ctx, "same query", "alaev", 5)
	require.NoError(t, err)

	// The same query for another character must not hit alaev's cache entry.
	vectors.Results = []registryvector.SearchResult{testutil.Result("sly32", "sly32 doc", 0.9)}
	docs, err := r.GetRelevantDocuments(ctx, "same query", "sly32", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "sly32 doc", docs[0].Document.Content)
	assert.Equal(t, 2, vectors.SearchCalls)
}

func TestRetrieverCustomThresholdBypassesCache(t *testing.T) {
	cache := testutil.NewFakeCache()
	vectors := testutil.NewFakeVectorStore()
	vectors.Results = []registryvector.SearchResult{testutil.Result("alaev", "doc", 0.6)}
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, cache, rag.RetrieverOptions{})

	docs, err := r.GetRelevantDocumentsWithThreshold(context.Background(), "q", "alaev", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Zero(t, cache.Sets)
}

func TestRetrieverBackendErrorPropagates(t *testing.T) {
	vectors := testutil.NewFakeVectorStore()
	vectors.Err = assert.AnError
	r := rag.NewRetriever(&testutil.FakeEmbedder{}, vectors, nil, rag.RetrieverOptions{})

	_, err := r.GetRelevantDocuments(context.Background(), "q", "alaev", 5)
	assert.Error(t, err)
}

func TestFingerprintNormalizes(t *testing.T) {
	assert.Equal(t, rag.Fingerprint("  What is Go?  "), rag.Fingerprint("what is go?"))
	assert.NotEqual(t, rag.Fingerprint("what is go?"), rag.Fingerprint("what is rust?"))
}
