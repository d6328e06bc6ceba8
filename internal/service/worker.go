package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/rag"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/security"
	"github.com/charmbracelet/log"
)

// outcomeKind classifies one job execution. The worker inspects the outcome
// to decide retry vs terminal-fail; retry policy lives here and nowhere else.
type outcomeKind int

const (
	outcomeOk outcomeKind = iota
	outcomeTransient
	outcomePermanent
)

type outcome struct {
	kind   outcomeKind
	result string
	err    error
}

// classify maps a pipeline error to an outcome. Validation failures are
// permanent: retrying cannot change the result of malformed input or a
// missing character.
func classify(err error) outcome {
	switch {
	case err == nil:
		return outcome{kind: outcomeOk}
	case rag.IsValidation(err):
		return outcome{kind: outcomePermanent, err: err}
	case rag.IsTransient(err):
		return outcome{kind: outcomeTransient, err: err}
	default:
		return outcome{kind: outcomePermanent, err: err}
	}
}

// WorkerPool pulls reply-generation jobs from the durable queue and runs the
// pipeline for each. Workers share no in-process state; every job is owned by
// exactly one worker from claim to terminal transition.
type WorkerPool struct {
	store       registrystore.Store
	pipeline    *rag.Pipeline
	count       int
	pollEvery   time.Duration
	maxAttempts int
	backoffBase time.Duration
}

// NewWorkerPool creates a pool of count workers.
func NewWorkerPool(store registrystore.Store, pipeline *rag.Pipeline, count int, pollEvery time.Duration, maxAttempts int, backoffBase time.Duration) *WorkerPool {
	if count <= 0 {
		count = 1
	}
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	return &WorkerPool{
		store:       store,
		pipeline:    pipeline,
		count:       count,
		pollEvery:   pollEvery,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Start runs the worker loops until ctx is cancelled.
func (w *WorkerPool) Start(ctx context.Context) {
	log.Info("Starting job workers", "count", w.count, "pollEvery", w.pollEvery, "maxAttempts", w.maxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < w.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.run(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reportQueueDepth(ctx)
	}()

	wg.Wait()
}

func (w *WorkerPool) run(ctx context.Context, id int) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		// Drain all ready jobs before going back to sleep.
		for {
			claimed, err := w.runOne(ctx)
			if err != nil {
				log.Error("Worker: claim failed", "worker", id, "err", err)
				break
			}
			if !claimed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOne claims and executes at most one job. Returns false when no job was
// ready.
func (w *WorkerPool) runOne(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimPendingJob(ctx, time.Now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.execute(ctx, job)
	return true, nil
}

func (w *WorkerPool) execute(ctx context.Context, job *model.Job) {
	log.Info("Processing job", "job", job.ID, "character", job.Character, "topic", job.TopicID, "attempt", job.Attempts)

	out := w.runPipeline(ctx, job)
	switch out.kind {
	case outcomeOk:
		if err := w.store.CompleteJob(ctx, job.ID, out.result); err != nil {
			log.Error("Worker: complete job failed", "job", job.ID, "err", err)
			return
		}
		observeJob("completed")
		log.Info("Job completed", "job", job.ID, "character", job.Character)

	case outcomeTransient:
		if job.Attempts >= w.maxAttempts {
			if err := w.store.FailJob(ctx, job.ID, fmt.Sprintf("retry ceiling reached after %d attempts: %v", job.Attempts, out.err)); err != nil {
				log.Error("Worker: fail job failed", "job", job.ID, "err", err)
				return
			}
			observeJob("failed")
			log.Warn("Job failed permanently: retry ceiling reached", "job", job.ID, "attempts", job.Attempts, "err", out.err)
			return
		}
		delay := w.backoffBase << uint(job.Attempts)
		nextAttempt := time.Now().Add(delay)
		if err := w.store.RescheduleJob(ctx, job.ID, out.err.Error(), nextAttempt); err != nil {
			log.Error("Worker: reschedule job failed", "job", job.ID, "err", err)
			return
		}
		observeJob("retried")
		log.Warn("Job rescheduled after transient failure", "job", job.ID, "delay", delay, "err", out.err)

	case outcomePermanent:
		if err := w.store.FailJob(ctx, job.ID, out.err.Error()); err != nil {
			log.Error("Worker: fail job failed", "job", job.ID, "err", err)
			return
		}
		observeJob("failed")
		log.Warn("Job failed permanently", "job", job.ID, "err", out.err)
	}
}

func (w *WorkerPool) runPipeline(ctx context.Context, job *model.Job) outcome {
	result, content, err := w.pipeline.GenerateReply(ctx, job)
	if err != nil {
		return classify(err)
	}

	authorName := job.Character
	if result.Persona != nil && result.Persona.DisplayName != "" {
		authorName = result.Persona.DisplayName
	}
	msg := &model.Message{
		TopicID:    job.TopicID,
		Character:  job.Character,
		AuthorName: authorName,
		Content:    content,
	}
	if err := w.store.CreateMessage(ctx, msg); err != nil {
		return classify(err)
	}
	return outcome{kind: outcomeOk, result: content}
}

func observeJob(result string) {
	if security.JobsProcessedTotal != nil {
		security.JobsProcessedTotal.WithLabelValues(result).Inc()
	}
}

func (w *WorkerPool) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if security.JobQueueDepth == nil {
				continue
			}
			counts, err := w.store.CountJobsByStatus(ctx)
			if err != nil {
				continue
			}
			for _, status := range []model.JobStatus{
				model.JobStatusPending, model.JobStatusProcessing,
				model.JobStatusCompleted, model.JobStatusFailed,
			} {
				security.JobQueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
			}
		}
	}
}
