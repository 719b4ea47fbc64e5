package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/models"
)

// ConflictRepository stores assessment conflicts and their lifecycle.
type ConflictRepository interface {
	CreateBatch(ctx context.Context, conflicts []models.ModelAssessmentConflict) error
	GetByID(ctx context.Context, id uint) (models.ModelAssessmentConflict, error)
	ListByExercise(ctx context.Context, exerciseID uint, state string) ([]models.ModelAssessmentConflict, error)
	Transition(ctx context.Context, conflict *models.ModelAssessmentConflict, from string) (bool, error)
}

type conflictRepository struct {
	db *gorm.DB
}

// NewConflictRepository instantiates the repository.
func NewConflictRepository(db *gorm.DB) ConflictRepository {
	return &conflictRepository{db: db}
}

func (r *conflictRepository) CreateBatch(ctx context.Context, conflicts []models.ModelAssessmentConflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&conflicts).Error
}

func (r *conflictRepository) GetByID(ctx context.Context, id uint) (models.ModelAssessmentConflict, error) {
	var conflict models.ModelAssessmentConflict
	if err := r.db.WithContext(ctx).First(&conflict, id).Error; err != nil {
		return models.ModelAssessmentConflict{}, err
	}
	return conflict, nil
}

// ListByExercise returns the conflicts of an exercise, newest first. An empty state lists all.
func (r *conflictRepository) ListByExercise(ctx context.Context, exerciseID uint, state string) ([]models.ModelAssessmentConflict, error) {
	query := r.db.WithContext(ctx).Where("exercise_id = ?", exerciseID)
	if state != "" {
		query = query.Where("state = ?", state)
	}

	var conflicts []models.ModelAssessmentConflict
	if err := query.Order("created_at DESC, id DESC").Find(&conflicts).Error; err != nil {
		return nil, err
	}
	return conflicts, nil
}

// Transition writes the lifecycle fields of conflict only while the stored state is still
// from. It reports false when another writer moved the conflict first.
func (r *conflictRepository) Transition(ctx context.Context, conflict *models.ModelAssessmentConflict, from string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ModelAssessmentConflict{}).
		Where("id = ? AND state = ?", conflict.ID, from).
		Updates(map[string]interface{}{
			"state":       conflict.State,
			"resolved_by": conflict.ResolvedBy,
			"resolved_at": conflict.ResolvedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
