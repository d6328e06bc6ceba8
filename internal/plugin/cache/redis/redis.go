package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/aiforum/rag-service/internal/model"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 300 * time.Second
	keyPrefix  = "rag:"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.KnowledgeCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: RAG_SERVICE_REDIS_URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURLWithTTL creates a KnowledgeCache from a Redis URL with an
// explicit default TTL for retrieval entries.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.KnowledgeCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisKnowledgeCache{client: client, ttl: ttl}, nil
}

type redisKnowledgeCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func retrievalKey(character, fingerprint string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, model.NormalizeCharacter(character), fingerprint)
}

func (c *redisKnowledgeCache) Available() bool {
	return true
}

func (c *redisKnowledgeCache) Get(ctx context.Context, character, fingerprint string) (*registrycache.CachedRetrieval, error) {
	data, err := c.client.Get(ctx, retrievalKey(character, fingerprint)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrycache.CachedRetrieval
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *redisKnowledgeCache) Set(ctx context.Context, character, fingerprint string, value registrycache.CachedRetrieval, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, retrievalKey(character, fingerprint), data, ttl).Err()
}

func (c *redisKnowledgeCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

var _ registrycache.KnowledgeCache = (*redisKnowledgeCache)(nil)
