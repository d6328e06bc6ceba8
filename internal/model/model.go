package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a reply-generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true for states that permit no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
// Legal paths: pending → processing, processing → completed|failed, and
// processing → pending (a transient-failure reschedule).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusPending
	default:
		return false
	}
}

// NormalizeCharacter canonicalizes a character name for ownership comparison
// and cache keying. Retrieval filtering must always compare normalized names.
func NormalizeCharacter(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CharacterProfile is the persona a character answers from. Loaded from the
// knowledge-base directory or the datastore; never mutated by the pipeline.
type CharacterProfile struct {
	Name               string         `json:"name"                gorm:"primaryKey"`
	DisplayName        string         `json:"display_name"`
	Personality        string         `json:"personality"`
	Background         string         `json:"background"`
	Expertise          []string       `json:"expertise"           gorm:"type:jsonb;serializer:json"`
	CommunicationStyle string         `json:"communication_style"`
	Preferences        map[string]any `json:"preferences"         gorm:"type:jsonb;serializer:json"`
	CreatedAt          time.Time      `json:"created_at"          gorm:"not null;autoCreateTime"`
	UpdatedAt          time.Time      `json:"updated_at"          gorm:"not null;autoUpdateTime"`
}

func (CharacterProfile) TableName() string { return "character_profiles" }

// KnowledgeDocument is a single retrievable unit of a character's history.
// Owner is mandatory and immutable: a document belongs to exactly one
// character and must never be returned for a query targeting another.
type KnowledgeDocument struct {
	ID              uuid.UUID      `json:"id"`
	SourceMessageID string         `json:"source_message_id"`
	Owner           string         `json:"owner"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// RetrievedDocument pairs a knowledge document with its similarity score for
// one query. Ephemeral; never persisted.
type RetrievedDocument struct {
	Document   KnowledgeDocument `json:"document"`
	Similarity float64           `json:"similarity"`
}

// Job is a reply-generation task. Mutated only by the worker that claimed it;
// never deleted, only marked terminal.
type Job struct {
	ID            uuid.UUID  `json:"id"                       gorm:"primaryKey;type:uuid"`
	Status        JobStatus  `json:"status"                   gorm:"not null;index"`
	Character     string     `json:"character"                gorm:"not null"`
	TopicID       int64      `json:"topic_id"                 gorm:"not null"`
	Question      string     `json:"question"                 gorm:"not null"`
	ReplyTo       *string    `json:"reply_to,omitempty"`
	Attempts      int        `json:"attempts"                 gorm:"not null;default:0"`
	NextAttemptAt time.Time  `json:"next_attempt_at"          gorm:"not null;index"`
	CreatedAt     time.Time  `json:"created_at"               gorm:"not null;autoCreateTime"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Result        *string    `json:"result,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// Message is a forum message persisted by the worker once generation succeeds.
type Message struct {
	ID         int64      `json:"id"          gorm:"primaryKey;autoIncrement"`
	TopicID    int64      `json:"topic_id"    gorm:"not null;index"`
	Character  string     `json:"character"   gorm:"not null"`
	AuthorName string     `json:"author_name" gorm:"not null"`
	Content    string     `json:"content"     gorm:"not null"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"  gorm:"not null;autoCreateTime"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
}

func (Message) TableName() string { return "messages" }
