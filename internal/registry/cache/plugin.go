package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aiforum/rag-service/internal/model"
)

// CachedRetrieval holds a previously computed retrieval result for a
// (character, query fingerprint) pair.
type CachedRetrieval struct {
	Documents []model.RetrievedDocument `json:"documents"`
	Model     string                    `json:"model,omitempty"`
	CachedAt  time.Time                 `json:"cached_at"`
}

// KnowledgeCache caches retrieval results keyed by character + query
// fingerprint. It is an optimization only: every caller must remain correct
// when Available() is false or every Get misses.
type KnowledgeCache interface {
	Available() bool
	// Get returns the cached retrieval or nil on a miss. A read past the
	// entry's TTL is a miss.
	Get(ctx context.Context, character, fingerprint string) (*CachedRetrieval, error)
	// Set stores a retrieval result under the composite key with the given TTL.
	// A ttl of zero uses the cache's configured default.
	Set(ctx context.Context, character, fingerprint string, value CachedRetrieval, ttl time.Duration) error
	// InvalidateAll drops every cached retrieval.
	InvalidateAll(ctx context.Context) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (KnowledgeCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
