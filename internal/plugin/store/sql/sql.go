package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/aiforum/rag-service/internal/model"
	registrymigrate "github.com/aiforum/rag-service/internal/registry/migrate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/security"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{Name: "postgres", Loader: loaderFor("postgres")})
	registrystore.Register(registrystore.Plugin{Name: "sqlite", Loader: loaderFor("sqlite")})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func loaderFor(dialect string) registrystore.Loader {
	return func(ctx context.Context) (registrystore.Store, error) {
		cfg := config.FromContext(ctx)
		db, err := openDB(dialect, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying db: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
		if security.DBPoolMaxConnections != nil {
			security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
		}

		// Periodically update the open connections gauge.
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if security.DBPoolOpenConnections != nil {
						security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
					}
				}
			}
		}()

		return &GormStore{db: db, dialect: dialect}, nil
	}
}

func openDB(dialect string, dbURL string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Discard}
	switch dialect {
	case "sqlite":
		return gorm.Open(sqlite.Open(dbURL), gormCfg)
	default:
		return gorm.Open(postgres.Open(dbURL), gormCfg)
	}
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "datastore-schema" }
func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	dialect := cfg.DatastoreType
	if dialect != "postgres" && dialect != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "dialect", dialect)
	db, err := openDB(dialect, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	schema := postgresSchemaSQL
	if dialect == "sqlite" {
		schema = sqliteSchemaSQL
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Datastore schema migration complete")
	return nil
}

// GormStore implements Store using GORM over PostgreSQL or SQLite. The two
// dialects share all queries; only the embedded schema differs.
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// NewWithDB wraps an already-open gorm handle. Used by tests that run
// against an in-memory SQLite database.
func NewWithDB(db *gorm.DB, dialect string) *GormStore {
	return &GormStore{db: db, dialect: dialect}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// --- Characters ---

func (s *GormStore) GetCharacterProfile(ctx context.Context, name string) (*model.CharacterProfile, error) {
	normalized := model.NormalizeCharacter(name)
	var profile model.CharacterProfile
	result := s.db.WithContext(ctx).Where("name = ?", normalized).Limit(1).Find(&profile)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load character profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "character", ID: normalized}
	}
	return &profile, nil
}

func (s *GormStore) SaveCharacterProfile(ctx context.Context, profile *model.CharacterProfile) error {
	profile.Name = model.NormalizeCharacter(profile.Name)
	if profile.Name == "" {
		return &registrystore.ValidationError{Field: "name", Message: "character name is required"}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "personality", "background", "expertise",
			"communication_style", "preferences", "updated_at",
		}),
	}).Create(profile).Error
	if err != nil {
		return fmt.Errorf("failed to save character profile: %w", err)
	}
	return nil
}

func (s *GormStore) ListCharacterNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&model.CharacterProfile{}).
		Order("name ASC").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return names, nil
}

// --- Jobs ---

func (s *GormStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	job.Character = model.NormalizeCharacter(job.Character)
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return &registrystore.ConflictError{Message: fmt.Sprintf("job %s already exists", job.ID)}
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *GormStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "job", ID: id.String()}
	}
	return &job, nil
}

func (s *GormStore) ClaimPendingJob(ctx context.Context, now time.Time) (*model.Job, error) {
	// Candidate selection and the claim are separate statements, so another
	// worker may win the same candidate. The conditional UPDATE decides; a
	// loser just moves on to the next candidate.
	for attempt := 0; attempt < 3; attempt++ {
		var job model.Job
		result := s.db.WithContext(ctx).
			Where("status = ? AND next_attempt_at <= ?", model.JobStatusPending, now).
			Order("next_attempt_at ASC").
			Limit(1).
			Find(&job)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to find pending job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, nil
		}

		claim := s.db.WithContext(ctx).Model(&model.Job{}).
			Where("id = ? AND status = ?", job.ID, model.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     model.JobStatusProcessing,
				"started_at": now,
			})
		if claim.Error != nil {
			return nil, fmt.Errorf("failed to claim job: %w", claim.Error)
		}
		if claim.RowsAffected == 1 {
			startedAt := now
			job.Status = model.JobStatusProcessing
			job.StartedAt = &startedAt
			return &job, nil
		}
	}
	return nil, nil
}

func (s *GormStore) CompleteJob(ctx context.Context, id uuid.UUID, result string) error {
	now := time.Now()
	update := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.JobStatusCompleted,
			"result":       result,
			"completed_at": now,
		})
	if update.Error != nil {
		return fmt.Errorf("failed to complete job: %w", update.Error)
	}
	if update.RowsAffected == 0 {
		return s.transitionConflict(ctx, id, model.JobStatusCompleted)
	}
	return nil
}

func (s *GormStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now()
	update := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": errMsg,
			"completed_at":  now,
		})
	if update.Error != nil {
		return fmt.Errorf("failed to fail job: %w", update.Error)
	}
	if update.RowsAffected == 0 {
		return s.transitionConflict(ctx, id, model.JobStatusFailed)
	}
	return nil
}

func (s *GormStore) RescheduleJob(ctx context.Context, id uuid.UUID, errMsg string, nextAttempt time.Time) error {
	update := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":          model.JobStatusPending,
			"attempts":        gorm.Expr("attempts + 1"),
			"error_message":   errMsg,
			"next_attempt_at": nextAttempt,
			"started_at":      nil,
		})
	if update.Error != nil {
		return fmt.Errorf("failed to reschedule job: %w", update.Error)
	}
	if update.RowsAffected == 0 {
		return s.transitionConflict(ctx, id, model.JobStatusPending)
	}
	return nil
}

// transitionConflict explains why a conditional status update matched no rows:
// either the job does not exist, or its current state does not permit the
// requested transition.
func (s *GormStore) transitionConflict(ctx context.Context, id uuid.UUID, target model.JobStatus) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return &registrystore.ConflictError{
			Message: fmt.Sprintf("job %s is already %s", id, job.Status),
		}
	}
	if !job.Status.CanTransitionTo(target) {
		return &registrystore.ConflictError{
			Message: fmt.Sprintf("job %s is %s; cannot transition to %s", id, job.Status, target),
		}
	}
	// The transition itself is legal; another worker changed the row between
	// the read and the update.
	return &registrystore.ConflictError{
		Message: fmt.Sprintf("job %s was updated concurrently", id),
	}
}

func (s *GormStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	type row struct {
		Status model.JobStatus `gorm:"column:status"`
		Count  int64           `gorm:"column:count"`
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.Job{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	counts := make(map[model.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// --- Messages ---

func (s *GormStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	msg.Character = model.NormalizeCharacter(msg.Character)
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *GormStore) FindMessagesPendingIndexing(ctx context.Context, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.WithContext(ctx).
		Where("indexed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages pending indexing: %w", err)
	}
	return messages, nil
}

func (s *GormStore) SetMessageIndexedAt(ctx context.Context, id int64, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Update("indexed_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark message indexed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var _ registrystore.Store = (*GormStore)(nil)
