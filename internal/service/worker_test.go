package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/rag"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerFixture(t *testing.T, generator *testutil.FakeGenerator) (*WorkerPool, registrystore.Store) {
	t.Helper()
	store := testutil.OpenSQLiteStore(t)
	require.NoError(t, store.SaveCharacterProfile(context.Background(), &model.CharacterProfile{
		Name:        "alaev",
		DisplayName: "Alaev",
		Personality: "dry",
	}))
	if generator == nil {
		generator = &testutil.FakeGenerator{Reply: "a reply"}
	}
	retriever := rag.NewRetriever(&testutil.FakeEmbedder{}, testutil.NewFakeVectorStore(), nil, rag.RetrieverOptions{})
	pipeline := rag.NewPipeline(store, retriever, generator, rag.PromptOptions{})
	pool := NewWorkerPool(store, pipeline, 1, time.Second, 3, 30*time.Second)
	return pool, store
}

func enqueue(t *testing.T, store registrystore.Store, character string) *model.Job {
	t.Helper()
	job := &model.Job{
		Character:     character,
		TopicID:       7,
		Question:      "What is sharding?",
		NextAttemptAt: time.Now().Add(-time.Second),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

// claimAndExecute drives one claim+execute cycle with a claim time far enough
// in the future to pick up rescheduled jobs immediately.
func claimAndExecute(t *testing.T, pool *WorkerPool, store registrystore.Store) *model.Job {
	t.Helper()
	claimed, err := store.ClaimPendingJob(context.Background(), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	pool.execute(context.Background(), claimed)
	return claimed
}

func TestClassify(t *testing.T) {
	assert.Equal(t, outcomeOk, classify(nil).kind)
	assert.Equal(t, outcomePermanent, classify(&registrystore.ValidationError{Field: "q", Message: "required"}).kind)
	assert.Equal(t, outcomePermanent, classify(&registrystore.NotFoundError{Resource: "character", ID: "ghost"}).kind)
	assert.Equal(t, outcomeTransient, classify(&registrystore.UnavailableError{Backend: "qdrant"}).kind)
	assert.Equal(t, outcomeTransient, classify(&registrygenerate.FailedError{Backend: "http", Reason: "status 500"}).kind)
	assert.Equal(t, outcomeTransient, classify(context.DeadlineExceeded).kind)
	assert.Equal(t, outcomePermanent, classify(errors.New("unknown")).kind)
}

func TestWorkerCompletesJobAndPersistsMessage(t *testing.T) {
	generator := &testutil.FakeGenerator{Reply: "Sharding splits data across nodes."}
	pool, store := workerFixture(t, generator)
	ctx := context.Background()

	job := enqueue(t, store, "alaev")
	claimAndExecute(t, pool, store)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Sharding splits data across nodes.", *got.Result)

	messages, err := store.FindMessagesPendingIndexing(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, int64(7), messages[0].TopicID)
	assert.Equal(t, "alaev", messages[0].Character)
	assert.Equal(t, "Alaev", messages[0].AuthorName)
	assert.Equal(t, "Sharding splits data across nodes.", messages[0].Content)
}

func TestWorkerFailsValidationJobImmediately(t *testing.T) {
	pool, store := workerFixture(t, nil)
	ctx := context.Background()

	job := enqueue(t, store, "ghost")
	claimAndExecute(t, pool, store)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 0, got.Attempts)
	require.NotNil(t, got.ErrorMessage)

	messages, err := store.FindMessagesPendingIndexing(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestWorkerReschedulesTransientFailureWithBackoff(t *testing.T) {
	generator := &testutil.FakeGenerator{Err: &registrygenerate.FailedError{Backend: "http", Reason: "status 503"}}
	pool, store := workerFixture(t, generator)
	ctx := context.Background()

	job := enqueue(t, store, "alaev")
	before := time.Now()
	claimAndExecute(t, pool, store)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// First retry backs off by the base delay.
	assert.WithinDuration(t, before.Add(30*time.Second), got.NextAttemptAt, 5*time.Second)
}

func TestWorkerRetryCeiling(t *testing.T) {
	generator := &testutil.FakeGenerator{Err: &registrygenerate.FailedError{Backend: "http", Reason: "status 503"}}
	pool, store := workerFixture(t, generator)
	ctx := context.Background()

	job := enqueue(t, store, "alaev")

	// Attempts 0, 1, 2 reschedule; the fourth execution hits the ceiling.
	for i := 0; i < 3; i++ {
		claimAndExecute(t, pool, store)
		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, i+1, got.Attempts)
	}

	claimAndExecute(t, pool, store)
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "retry ceiling reached after 3 attempts")
	assert.Equal(t, 4, generator.Calls)
}

func TestWorkerBackoffDoubles(t *testing.T) {
	generator := &testutil.FakeGenerator{Err: &registrygenerate.FailedError{Backend: "http", Reason: "status 503"}}
	pool, store := workerFixture(t, generator)
	ctx := context.Background()

	job := enqueue(t, store, "alaev")

	expected := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	for _, delay := range expected {
		before := time.Now()
		claimAndExecute(t, pool, store)
		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, before.Add(delay), got.NextAttemptAt, 5*time.Second)
	}
}

func TestWorkerRunOneNoJobs(t *testing.T) {
	pool, _ := workerFixture(t, nil)
	claimed, err := pool.runOne(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}
