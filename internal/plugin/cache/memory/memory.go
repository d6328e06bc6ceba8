package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/aiforum/rag-service/internal/model"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultTTL = 300 * time.Second

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.KnowledgeCache, error) {
	cfg := config.FromContext(ctx)
	maxBytes := int64(64 * 1024 * 1024)
	ttl := defaultTTL
	if cfg != nil {
		if cfg.CacheMemoryMaxBytes > 0 {
			maxBytes = cfg.CacheMemoryMaxBytes
		}
		if cfg.CacheTTL > 0 {
			ttl = cfg.CacheTTL
		}
	}
	return New(maxBytes, ttl)
}

// New creates an in-process KnowledgeCache bounded to maxBytes of cached
// retrieval payloads.
func New(maxBytes int64, ttl time.Duration) (registrycache.KnowledgeCache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &memoryKnowledgeCache{inner: inner, ttl: ttl}, nil
}

type memoryKnowledgeCache struct {
	inner *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

func retrievalKey(character, fingerprint string) string {
	return model.NormalizeCharacter(character) + ":" + fingerprint
}

func (c *memoryKnowledgeCache) Available() bool {
	return true
}

func (c *memoryKnowledgeCache) Get(_ context.Context, character, fingerprint string) (*registrycache.CachedRetrieval, error) {
	data, ok := c.inner.Get(retrievalKey(character, fingerprint))
	if !ok {
		return nil, nil
	}
	var cached registrycache.CachedRetrieval
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *memoryKnowledgeCache) Set(_ context.Context, character, fingerprint string, value registrycache.CachedRetrieval, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	c.inner.SetWithTTL(retrievalKey(character, fingerprint), data, int64(len(data)), ttl)
	// Wait so a Get immediately after Set observes the entry.
	c.inner.Wait()
	return nil
}

func (c *memoryKnowledgeCache) InvalidateAll(_ context.Context) error {
	c.inner.Clear()
	return nil
}

var _ registrycache.KnowledgeCache = (*memoryKnowledgeCache)(nil)
