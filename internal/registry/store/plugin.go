package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/google/uuid"
)

// Store is the durable datastore: character personas, the job queue, and the
// forum messages the workers produce.
type Store interface {
	// GetCharacterProfile returns the persona for a character name
	// (normalized). Returns a NotFoundError when the character is unknown.
	GetCharacterProfile(ctx context.Context, name string) (*model.CharacterProfile, error)
	// SaveCharacterProfile inserts or updates a persona record.
	SaveCharacterProfile(ctx context.Context, profile *model.CharacterProfile) error
	// ListCharacterNames returns the names of all known characters.
	ListCharacterNames(ctx context.Context) ([]string, error)

	// CreateJob persists a new pending job.
	CreateJob(ctx context.Context, job *model.Job) error
	// GetJob returns a job by id.
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	// ClaimPendingJob atomically claims one pending job whose next attempt is
	// due, transitions it to processing with a start timestamp, and returns
	// it. Returns (nil, nil) when no job is ready. Exactly one caller wins a
	// given job.
	ClaimPendingJob(ctx context.Context, now time.Time) (*model.Job, error)
	// CompleteJob transitions a processing job to completed, recording the
	// result and completion timestamp atomically.
	CompleteJob(ctx context.Context, id uuid.UUID, result string) error
	// FailJob transitions a processing job to failed, recording the error
	// message and completion timestamp atomically.
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	// RescheduleJob returns a processing job to pending for a later retry,
	// bumping the attempt counter and recording the transient error.
	RescheduleJob(ctx context.Context, id uuid.UUID, errMsg string, nextAttempt time.Time) error
	// CountJobsByStatus returns job counts grouped by status.
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int64, error)

	// CreateMessage persists a generated forum message.
	CreateMessage(ctx context.Context, msg *model.Message) error
	// FindMessagesPendingIndexing lists messages not yet embedded into the
	// vector store, oldest first.
	FindMessagesPendingIndexing(ctx context.Context, limit int) ([]model.Message, error)
	// SetMessageIndexedAt marks a message as embedded.
	SetMessageIndexedAt(ctx context.Context, id int64, at time.Time) error

	// Ping checks datastore reachability for health reporting.
	Ping(ctx context.Context) error
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a datastore plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a datastore plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered datastore plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named datastore plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown datastore %q; valid: %v", name, Names())
}
