package noop

import (
	"context"
	"time"

	"github.com/aiforum/rag-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.KnowledgeCache, error) {
			return &noopKnowledgeCache{}, nil
		},
	})
}

type noopKnowledgeCache struct{}

func (n *noopKnowledgeCache) Available() bool { return false }
func (n *noopKnowledgeCache) Get(_ context.Context, _, _ string) (*cache.CachedRetrieval, error) {
	return nil, nil
}
func (n *noopKnowledgeCache) Set(_ context.Context, _, _ string, _ cache.CachedRetrieval, _ time.Duration) error {
	return nil
}
func (n *noopKnowledgeCache) InvalidateAll(_ context.Context) error { return nil }

var _ cache.KnowledgeCache = (*noopKnowledgeCache)(nil)
