package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steemit/pulse/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// EngagementRepository persists content engagement records
type EngagementRepository struct {
	*Repository
}

// NewEngagementRepository creates a new engagement repository
func NewEngagementRepository(repo *Repository) *EngagementRepository {
	return &EngagementRepository{Repository: repo}
}

// Upsert writes counters, heat score and last interaction; createdAt is only set on insert
func (r *EngagementRepository) Upsert(ctx context.Context, rec *models.ContentEngagement) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"views", "likes", "comments", "shares",
			"heat_score", "last_interaction", "updated_at",
		}),
	}).Create(rec).Error
}

// GetByID retrieves an engagement record; nil when absent
func (r *EngagementRepository) GetByID(ctx context.Context, contentID string) (*models.ContentEngagement, error) {
	var rec models.ContentEngagement
	if err := r.db.WithContext(ctx).Where("content_id = ?", contentID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAfter pages records in content ID order
func (r *EngagementRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]models.ContentEngagement, error) {
	var recs []models.ContentEngagement
	if err := r.db.WithContext(ctx).
		Where("content_id > ?", afterID).
		Order("content_id ASC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// CheckInRepository persists user check-in state and history
type CheckInRepository struct {
	*Repository
}

// NewCheckInRepository creates a new check-in repository
func NewCheckInRepository(repo *Repository) *CheckInRepository {
	return &CheckInRepository{Repository: repo}
}

// Upsert writes the user state and appends history rows, once per day key.
// A state without a location keeps the stored one, since the cached location expires.
func (r *CheckInRepository) Upsert(ctx context.Context, state *models.UserCheckInState, history []models.CheckInRecord) error {
	if err := state.Validate(); err != nil {
		return err
	}
	updates := append(clause.AssignmentColumns([]string{
		"consecutive_check_ins", "total_check_ins", "points",
		"last_check_in_at", "updated_at",
	}), clause.Assignment{
		Column: clause.Column{Name: "last_location"},
		Value:  gorm.Expr("COALESCE(EXCLUDED.last_location, user_check_in_state.last_location)"),
	})

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: updates,
		}).Create(state).Error
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", state.UserID, err)
		}

		if len(history) == 0 {
			return nil
		}
		for i := range history {
			history[i].UserID = state.UserID
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day_key"}},
			DoNothing: true,
		}).Create(&history).Error
		if err != nil {
			return fmt.Errorf("append history for user %s: %w", state.UserID, err)
		}
		return nil
	})
}

// GetByID retrieves a user's state with its history; nil when absent
func (r *CheckInRepository) GetByID(ctx context.Context, userID string) (*models.UserCheckInState, error) {
	var state models.UserCheckInState
	err := r.db.WithContext(ctx).
		Preload("CheckInHistory", func(db *gorm.DB) *gorm.DB { return db.Order("checked_in_at ASC") }).
		Where("user_id = ?", userID).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListAfter pages user states in user ID order with their history
func (r *CheckInRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]models.UserCheckInState, error) {
	var states []models.UserCheckInState
	if err := r.db.WithContext(ctx).
		Preload("CheckInHistory").
		Where("user_id > ?", afterID).
		Order("user_id ASC").
		Limit(limit).
		Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// Store is the durable record store consumed by the sync worker
type Store struct {
	Engagement *EngagementRepository
	CheckIns   *CheckInRepository
}

// NewStore builds both repositories over one connection
func NewStore(d *DB) *Store {
	repo := NewRepository(d.DB)
	return &Store{
		Engagement: NewEngagementRepository(repo),
		CheckIns:   NewCheckInRepository(repo),
	}
}

// UpsertContentEngagement implements the durable content write
func (s *Store) UpsertContentEngagement(ctx context.Context, rec *models.ContentEngagement) error {
	return s.Engagement.Upsert(ctx, rec)
}

// UpsertUserCheckInState implements the durable user write
func (s *Store) UpsertUserCheckInState(ctx context.Context, state *models.UserCheckInState, history []models.CheckInRecord) error {
	return s.CheckIns.Upsert(ctx, state, history)
}

// LoadContentEngagement implements the durable content read
func (s *Store) LoadContentEngagement(ctx context.Context, contentID string) (*models.ContentEngagement, error) {
	return s.Engagement.GetByID(ctx, contentID)
}

// LoadUserCheckInState implements the durable user read
func (s *Store) LoadUserCheckInState(ctx context.Context, userID string) (*models.UserCheckInState, error) {
	return s.CheckIns.GetByID(ctx, userID)
}

// ListContentEngagement pages content records for seeding
func (s *Store) ListContentEngagement(ctx context.Context, afterID string, limit int) ([]models.ContentEngagement, error) {
	return s.Engagement.ListAfter(ctx, afterID, limit)
}

// ListUserCheckInStates pages user records for seeding
func (s *Store) ListUserCheckInStates(ctx context.Context, afterID string, limit int) ([]models.UserCheckInState, error) {
	return s.CheckIns.ListAfter(ctx, afterID, limit)
}
