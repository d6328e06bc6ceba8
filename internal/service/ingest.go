package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/rag"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/charmbracelet/log"
)

const embedBatchSize = 64

// Ingestor loads character personas and historical message corpora into the
// datastore and the vector store.
type Ingestor struct {
	store    registrystore.Store
	embedder registryembed.Embedder
	vectors  registryvector.VectorStore
}

// NewIngestor creates an ingestor from the loaded plugins.
func NewIngestor(store registrystore.Store, embedder registryembed.Embedder, vectors registryvector.VectorStore) *Ingestor {
	return &Ingestor{store: store, embedder: embedder, vectors: vectors}
}

// personaFile is the on-disk persona record: one JSON file per character,
// named {character}.json.
type personaFile struct {
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"`
	Personality        string         `json:"personality"`
	Background         string         `json:"background"`
	Expertise          []string       `json:"expertise"`
	CommunicationStyle string         `json:"communication_style"`
	Preferences        map[string]any `json:"preferences"`
}

// LoadPersonas reads every persona JSON file in dir and upserts it into the
// datastore. Returns the number of personas loaded.
func (in *Ingestor) LoadPersonas(ctx context.Context, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return count, fmt.Errorf("failed to read persona file %s: %w", path, err)
		}
		var p personaFile
		if err := json.Unmarshal(data, &p); err != nil {
			return count, fmt.Errorf("failed to parse persona file %s: %w", path, err)
		}
		name := p.UserID
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		profile := &model.CharacterProfile{
			Name:               name,
			DisplayName:        p.Name,
			Personality:        p.Personality,
			Background:         p.Background,
			Expertise:          p.Expertise,
			CommunicationStyle: p.CommunicationStyle,
			Preferences:        p.Preferences,
		}
		if err := in.store.SaveCharacterProfile(ctx, profile); err != nil {
			return count, err
		}
		count++
	}
	log.Info("Loaded character personas", "dir", dir, "count", count)
	return count, nil
}

// corpusMessage is one historical forum message in a corpus file.
type corpusMessage struct {
	ID        json.Number `json:"id"`
	ThreadID  json.Number `json:"thread_id"`
	Character string      `json:"character"`
	Mood      string      `json:"mood"`
	Context   string      `json:"context"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	ReplyTo   string      `json:"reply_to"`
}

type corpusFile struct {
	Messages []corpusMessage `json:"messages"`
}

// IngestCorpus loads a historical message corpus file into the vector store.
// Each message becomes one knowledge document owned by its character, keyed by
// the source message id so re-ingesting the same file never duplicates
// documents. With replace set, each character's existing documents are
// deleted first.
func (in *Ingestor) IngestCorpus(ctx context.Context, path string, replace bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read corpus file %s: %w", path, err)
	}
	var corpus corpusFile
	if err := json.Unmarshal(data, &corpus); err != nil {
		return 0, fmt.Errorf("failed to parse corpus file %s: %w", path, err)
	}

	if replace {
		owners := map[string]bool{}
		for _, msg := range corpus.Messages {
			owners[model.NormalizeCharacter(msg.Character)] = true
		}
		for owner := range owners {
			if owner == "" {
				continue
			}
			if err := in.vectors.DeleteByOwner(ctx, owner); err != nil {
				return 0, err
			}
		}
	}

	total := 0
	for start := 0; start < len(corpus.Messages); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(corpus.Messages) {
			end = len(corpus.Messages)
		}
		n, err := in.ingestBatch(ctx, corpus.Messages[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	log.Info("Ingested corpus", "path", path, "documents", total)
	return total, nil
}

func (in *Ingestor) ingestBatch(ctx context.Context, messages []corpusMessage) (int, error) {
	var batch []corpusMessage
	var texts []string
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" || model.NormalizeCharacter(msg.Character) == "" {
			continue
		}
		batch = append(batch, msg)
		texts = append(texts, msg.Content)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	embeddings, err := in.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed corpus batch: %w", err)
	}
	if len(embeddings) != len(batch) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(batch))
	}

	inserts := make([]registryvector.InsertRequest, len(batch))
	for i, msg := range batch {
		inserts[i] = registryvector.InsertRequest{
			SourceMessageID: sourceMessageID(msg),
			Owner:           model.NormalizeCharacter(msg.Character),
			Content:         msg.Content,
			Embedding:       embeddings[i],
			Metadata:        corpusMetadata(msg),
			ModelName:       in.embedder.ModelName(),
		}
	}
	if err := in.vectors.InsertDocuments(ctx, inserts); err != nil {
		return 0, err
	}
	return len(inserts), nil
}

// sourceMessageID returns the natural de-duplication key for a corpus
// message. Messages without an id fall back to a content hash, which still
// de-duplicates exact re-ingestion.
func sourceMessageID(msg corpusMessage) string {
	if msg.ID.String() != "" {
		return fmt.Sprintf("%s:%s", model.NormalizeCharacter(msg.Character), msg.ID.String())
	}
	return fmt.Sprintf("%s:%s", model.NormalizeCharacter(msg.Character), rag.Fingerprint(msg.Content))
}

func corpusMetadata(msg corpusMessage) map[string]any {
	metadata := map[string]any{}
	if msg.Mood != "" {
		metadata["mood"] = msg.Mood
	}
	if msg.Context != "" {
		metadata["context"] = msg.Context
	}
	if msg.ThreadID.String() != "" {
		metadata["thread_id"] = msg.ThreadID.String()
	}
	if msg.ReplyTo != "" {
		metadata["reply_to"] = msg.ReplyTo
	}
	if msg.Timestamp != "" {
		metadata["timestamp"] = msg.Timestamp
	}
	return metadata
}
