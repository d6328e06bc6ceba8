package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aiforum/rag-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const corpusJSON = `{
  "messages": [
    {"id": 101, "thread_id": 9, "character": "Alaev", "mood": "dry", "context": "orm debate", "content": "Postgres beats the ORM every time.", "timestamp": "2025-06-01T10:00:00Z"},
    {"id": 102, "thread_id": 9, "character": "Sly32", "content": "Depends on the team.", "reply_to": "Alaev"},
    {"id": 103, "thread_id": 9, "character": "alaev", "content": "It really does not."},
    {"id": 104, "thread_id": 9, "character": "", "content": "orphaned message"},
    {"id": 105, "thread_id": 9, "character": "Sly32", "content": "   "}
  ]
}`

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIngestCorpus(t *testing.T) {
	store := testutil.OpenSQLiteStore(t)
	vectors := testutil.NewFakeVectorStore()
	ingestor := NewIngestor(store, &testutil.FakeEmbedder{}, vectors)

	path := writeCorpus(t, corpusJSON)
	n, err := ingestor.IngestCorpus(context.Background(), path, false)
	require.NoError(t, err)

	// Messages without a character or content are skipped.
	assert.Equal(t, 3, n)
	total, err := vectors.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	doc, ok := vectors.Doc("alaev:101")
	require.True(t, ok)
	assert.Equal(t, "alaev", doc.Owner)
	assert.Equal(t, "Postgres beats the ORM every time.", doc.Content)
	assert.Equal(t, "dry", doc.Metadata["mood"])
	assert.Equal(t, "9", doc.Metadata["thread_id"])
	assert.NotEmpty(t, doc.Embedding)

	doc, ok = vectors.Doc("sly32:102")
	require.True(t, ok)
	assert.Equal(t, "Alaev", doc.Metadata["reply_to"])
}

func TestIngestCorpusIdempotent(t *testing.T) {
	store := testutil.OpenSQLiteStore(t)
	vectors := testutil.NewFakeVectorStore()
	ingestor := NewIngestor(store, &testutil.FakeEmbedder{}, vectors)

	path := writeCorpus(t, corpusJSON)
	ctx := context.Background()

	_, err := ingestor.IngestCorpus(ctx, path, false)
	require.NoError(t, err)
	_, err = ingestor.IngestCorpus(ctx, path, false)
	require.NoError(t, err)

	// Re-ingesting the same corpus upserts on the source message id rather
	// than duplicating documents.
	total, err := vectors.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestIngestCorpusReplace(t *testing.T) {
	store := testutil.OpenSQLiteStore(t)
	vectors := testutil.NewFakeVectorStore()
	ingestor := NewIngestor(store, &testutil.FakeEmbedder{}, vectors)
	ctx := context.Background()

	first := writeCorpus(t, `{"messages": [{"id": 1, "character": "alaev", "content": "stale"}]}`)
	_, err := ingestor.IngestCorpus(ctx, first, false)
	require.NoError(t, err)

	second := writeCorpus(t, `{"messages": [{"id": 2, "character": "alaev", "content": "fresh"}]}`)
	_, err = ingestor.IngestCorpus(ctx, second, true)
	require.NoError(t, err)

	_, stale := vectors.Doc("alaev:1")
	assert.False(t, stale)
	_, fresh := vectors.Doc("alaev:2")
	assert.True(t, fresh)
}

func TestLoadPersonas(t *testing.T) {
	store := testutil.OpenSQLiteStore(t)
	ingestor := NewIngestor(store, nil, nil)
	dir := t.TempDir()

	persona := `{
  "user_id": "alaev",
  "name": "Alaev",
  "personality": "Dry, precise.",
  "background": "Systems engineer.",
  "expertise": ["databases"],
  "communication_style": "short",
  "preferences": {"technical_level": "expert"}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alaev.json"), []byte(persona), 0o600))

	// No user_id: the file name stem is the character name.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sly32.json"), []byte(`{"name": "Sly32"}`), 0o600))

	ctx := context.Background()
	n, err := ingestor.LoadPersonas(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	profile, err := store.GetCharacterProfile(ctx, "alaev")
	require.NoError(t, err)
	assert.Equal(t, "Alaev", profile.DisplayName)
	assert.Equal(t, []string{"databases"}, profile.Expertise)
	assert.Equal(t, "expert", profile.Preferences["technical_level"])

	profile, err = store.GetCharacterProfile(ctx, "sly32")
	require.NoError(t, err)
	assert.Equal(t, "Sly32", profile.DisplayName)
}
