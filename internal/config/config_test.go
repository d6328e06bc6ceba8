package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 0.7, cfg.SimilarityThreshold)
	assert.Equal(t, 10, cfg.RetrievalTopK)
	assert.Equal(t, 50, cfg.RetrievalMaxFetch)
	assert.Equal(t, 5, cfg.PromptContextDocs)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.RetryBackoffBase)
	assert.Equal(t, 8080, cfg.Listener.Port)
	assert.True(t, cfg.DatastoreMigrateAtStart)
}

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

func TestQdrantAddress(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6334", cfg.QdrantAddress())

	cfg.QdrantHost = "qdrant.internal"
	cfg.QdrantPort = 7001
	assert.Equal(t, "qdrant.internal:7001", cfg.QdrantAddress())

	// A host that already carries a port is used verbatim.
	cfg.QdrantHost = "qdrant.internal:6334"
	assert.Equal(t, "qdrant.internal:6334", cfg.QdrantAddress())

	cfg.QdrantHost = " other "
	cfg.QdrantPort = 0
	assert.Equal(t, "other:6334", cfg.QdrantAddress())
}

func TestEmbeddingDimension(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1536, cfg.EmbeddingDimension())

	cfg.EmbedType = "local"
	assert.Equal(t, 384, cfg.EmbeddingDimension())

	cfg.OpenAIDimensions = 256
	assert.Equal(t, 256, cfg.EmbeddingDimension())
}

func TestLoadAPIKeysFromEnv(t *testing.T) {
	t.Setenv("RAG_SERVICE_API_KEYS_FORUM_BACKEND", "key-one")
	t.Setenv("RAG_SERVICE_API_KEYS_ADMIN", "key-two")
	t.Setenv("RAG_SERVICE_API_KEYS_EMPTY", "")

	cfg := DefaultConfig()
	cfg.LoadAPIKeysFromEnv()

	require.Len(t, cfg.APIKeys, 2)
	assert.Equal(t, "forum_backend", cfg.APIKeys["key-one"])
	assert.Equal(t, "admin", cfg.APIKeys["key-two"])
}
