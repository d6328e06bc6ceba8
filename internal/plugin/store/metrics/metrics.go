package metrics

import (
	"context"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a Store that records StoreLatency for every operation.
func Wrap(inner store.Store) store.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Store
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) GetCharacterProfile(ctx context.Context, name string) (*model.CharacterProfile, error) {
	defer observe("get_character_profile", time.Now())
	return m.inner.GetCharacterProfile(ctx, name)
}

func (m *metricsStore) SaveCharacterProfile(ctx context.Context, profile *model.CharacterProfile) error {
	defer observe("save_character_profile", time.Now())
	return m.inner.SaveCharacterProfile(ctx, profile)
}

func (m *metricsStore) ListCharacterNames(ctx context.Context) ([]string, error) {
	defer observe("list_character_names", time.Now())
	return m.inner.ListCharacterNames(ctx)
}

func (m *metricsStore) CreateJob(ctx context.Context, job *model.Job) error {
	defer observe("create_job", time.Now())
	return m.inner.CreateJob(ctx, job)
}

func (m *metricsStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	defer observe("get_job", time.Now())
	return m.inner.GetJob(ctx, id)
}

func (m *metricsStore) ClaimPendingJob(ctx context.Context, now time.Time) (*model.Job, error) {
	defer observe("claim_pending_job", time.Now())
	return m.inner.ClaimPendingJob(ctx, now)
}

func (m *metricsStore) CompleteJob(ctx context.Context, id uuid.UUID, result string) error {
	defer observe("complete_job", time.Now())
	return m.inner.CompleteJob(ctx, id, result)
}

func (m *metricsStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	defer observe("fail_job", time.Now())
	return m.inner.FailJob(ctx, id, errMsg)
}

func (m *metricsStore) RescheduleJob(ctx context.Context, id uuid.UUID, errMsg string, nextAttempt time.Time) error {
	defer observe("reschedule_job", time.Now())
	return m.inner.RescheduleJob(ctx, id, errMsg, nextAttempt)
}

func (m *metricsStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	defer observe("count_jobs_by_status", time.Now())
	return m.inner.CountJobsByStatus(ctx)
}

func (m *metricsStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	defer observe("create_message", time.Now())
	return m.inner.CreateMessage(ctx, msg)
}

func (m *metricsStore) FindMessagesPendingIndexing(ctx context.Context, limit int) ([]model.Message, error) {
	defer observe("find_messages_pending_indexing", time.Now())
	return m.inner.FindMessagesPendingIndexing(ctx, limit)
}

func (m *metricsStore) SetMessageIndexedAt(ctx context.Context, id int64, at time.Time) error {
	defer observe("set_message_indexed_at", time.Now())
	return m.inner.SetMessageIndexedAt(ctx, id, at)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return m.inner.Ping(ctx)
}
