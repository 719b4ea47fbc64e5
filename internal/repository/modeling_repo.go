package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/models"
)

// ModelingSubmissionRepository persists diagrams submitted to modeling exercises.
type ModelingSubmissionRepository interface {
	Create(ctx context.Context, submission *models.ModelingSubmission) error
	GetByID(ctx context.Context, id uint) (models.ModelingSubmission, error)
	ListByExercise(ctx context.Context, exerciseID uint) ([]models.ModelingSubmission, error)
	CountByExercise(ctx context.Context, exerciseID uint) (int64, error)
}

type modelingSubmissionRepository struct {
	db *gorm.DB
}

// NewModelingSubmissionRepository instantiates the repository.
func NewModelingSubmissionRepository(db *gorm.DB) ModelingSubmissionRepository {
	return &modelingSubmissionRepository{db: db}
}

func (r *modelingSubmissionRepository) Create(ctx context.Context, submission *models.ModelingSubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *modelingSubmissionRepository) GetByID(ctx context.Context, id uint) (models.ModelingSubmission, error) {
	var submission models.ModelingSubmission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.ModelingSubmission{}, err
	}
	return submission, nil
}

func (r *modelingSubmissionRepository) ListByExercise(ctx context.Context, exerciseID uint) ([]models.ModelingSubmission, error) {
	var submissions []models.ModelingSubmission
	if err := r.db.WithContext(ctx).
		Where("exercise_id = ?", exerciseID).
		Order("id ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *modelingSubmissionRepository) CountByExercise(ctx context.Context, exerciseID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ModelingSubmission{}).
		Where("exercise_id = ?", exerciseID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ModelingResultRepository is the authoritative store of assessments.
type ModelingResultRepository interface {
	GetBySubmission(ctx context.Context, submissionID uint) (models.ModelingResult, error)
	HasCompletedAssessment(ctx context.Context, submissionID uint) (bool, error)
	ListCompletedManual(ctx context.Context, exerciseID uint) ([]models.ModelingResult, error)
	SaveManual(ctx context.Context, result *models.ModelingResult) error
	SaveAutomatic(ctx context.Context, results []models.ModelingResult) (int, error)
}

type modelingResultRepository struct {
	db *gorm.DB
}

// NewModelingResultRepository instantiates the repository.
func NewModelingResultRepository(db *gorm.DB) ModelingResultRepository {
	return &modelingResultRepository{db: db}
}

func (r *modelingResultRepository) GetBySubmission(ctx context.Context, submissionID uint) (models.ModelingResult, error) {
	var result models.ModelingResult
	if err := r.db.WithContext(ctx).
		Preload("Feedback", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		Where("submission_id = ?", submissionID).
		First(&result).Error; err != nil {
		return models.ModelingResult{}, err
	}
	return result, nil
}

func (r *modelingResultRepository) HasCompletedAssessment(ctx context.Context, submissionID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ModelingResult{}).
		Where("submission_id = ?", submissionID).
		Where("completed = ?", true).
		Where("assessment_type IN ?", []string{models.AssessmentTypeManual, models.AssessmentTypeSemiAutomatic}).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *modelingResultRepository) ListCompletedManual(ctx context.Context, exerciseID uint) ([]models.ModelingResult, error) {
	var results []models.ModelingResult
	if err := r.db.WithContext(ctx).
		Preload("Feedback", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		Where("exercise_id = ?", exerciseID).
		Where("completed = ?", true).
		Where("assessment_type IN ?", []string{models.AssessmentTypeManual, models.AssessmentTypeSemiAutomatic}).
		Order("completed_at ASC, id ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SaveManual writes a manual result for a submission, replacing any earlier result and its feedback.
func (r *modelingResultRepository) SaveManual(ctx context.Context, result *models.ModelingResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ModelingResult
		err := tx.Where("submission_id = ?", result.SubmissionID).First(&existing).Error
		switch {
		case err == nil:
			result.ID = existing.ID
			result.CreatedAt = existing.CreatedAt
			if err := tx.Where("result_id = ?", existing.ID).Delete(&models.ModelingFeedback{}).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return saveWithFeedback(tx, result)
	})
}

// SaveAutomatic stores automatic results. Submissions that already carry a manual result are
// skipped; the number of stored results is returned.
func (r *modelingResultRepository) SaveAutomatic(ctx context.Context, results []models.ModelingResult) (int, error) {
	stored := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range results {
			result := &results[i]

			var existing models.ModelingResult
			err := tx.Where("submission_id = ?", result.SubmissionID).First(&existing).Error
			switch {
			case err == nil:
				if existing.IsManual() {
					continue
				}
				result.ID = existing.ID
				result.CreatedAt = existing.CreatedAt
				if err := tx.Where("result_id = ?", existing.ID).Delete(&models.ModelingFeedback{}).Error; err != nil {
					return err
				}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}

			if err := saveWithFeedback(tx, result); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func saveWithFeedback(tx *gorm.DB, result *models.ModelingResult) error {
	feedback := result.Feedback
	if err := tx.Omit("Feedback").Save(result).Error; err != nil {
		return err
	}
	for i := range feedback {
		feedback[i].ID = 0
		feedback[i].ResultID = result.ID
		feedback[i].SubmissionID = result.SubmissionID
	}
	if len(feedback) > 0 {
		if err := tx.Create(&feedback).Error; err != nil {
			return err
		}
	}
	result.Feedback = feedback
	return nil
}
