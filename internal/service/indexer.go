package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/charmbracelet/log"
)

// BackgroundIndexer polls for generated messages not yet embedded into the
// vector store and feeds them back in, so a character's own replies become
// retrievable knowledge for later queries.
type BackgroundIndexer struct {
	store    registrystore.Store
	embedder registryembed.Embedder
	vector   registryvector.VectorStore
	interval time.Duration
	batch    int
}

// NewBackgroundIndexer creates a new indexer.
func NewBackgroundIndexer(store registrystore.Store, embedder registryembed.Embedder, vector registryvector.VectorStore, batchSize int) *BackgroundIndexer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &BackgroundIndexer{
		store:    store,
		embedder: embedder,
		vector:   vector,
		interval: 30 * time.Second,
		batch:    batchSize,
	}
}

// Start begins the background indexing loop. Returns when ctx is cancelled.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	if b.embedder == nil || b.vector == nil || !b.vector.IsEnabled() {
		log.Info("Background indexer disabled (no embedder or vector store)")
		return
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.indexBatch(ctx)
		}
	}
}

func (b *BackgroundIndexer) indexBatch(ctx context.Context) {
	messages, err := b.store.FindMessagesPendingIndexing(ctx, b.batch)
	if err != nil {
		log.Error("Indexer: list pending messages failed", "err", err)
		return
	}

	var candidates []model.Message
	for _, m := range messages {
		if m.Content != "" {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return
	}

	texts := make([]string, len(candidates))
	for i, m := range candidates {
		texts[i] = m.Content
	}
	embeddings, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		log.Error("Indexer: batch embed failed", "err", err)
		return
	}

	inserts := make([]registryvector.InsertRequest, len(candidates))
	for i, m := range candidates {
		inserts[i] = registryvector.InsertRequest{
			SourceMessageID: fmt.Sprintf("forum-message:%d", m.ID),
			Owner:           model.NormalizeCharacter(m.Character),
			Content:         m.Content,
			Embedding:       embeddings[i],
			Metadata: map[string]any{
				"thread_id": strconv.FormatInt(m.TopicID, 10),
				"generated": true,
			},
			ModelName: b.embedder.ModelName(),
		}
	}
	if err := b.vector.InsertDocuments(ctx, inserts); err != nil {
		log.Error("Indexer: batch vector insert failed", "err", err)
		return
	}

	now := time.Now()
	count := 0
	for _, m := range candidates {
		if err := b.store.SetMessageIndexedAt(ctx, m.ID, now); err != nil {
			log.Error("Indexer: set indexed_at failed", "message", m.ID, "err", err)
			continue
		}
		count++
	}

	if count > 0 {
		log.Info("Indexer: indexed messages", "count", count)
	}
}
