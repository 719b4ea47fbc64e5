package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// AssessmentTypeManual marks a result written by an assessor.
	AssessmentTypeManual = "MANUAL"
	// AssessmentTypeAutomatic marks a result computed entirely from propagated grades.
	AssessmentTypeAutomatic = "AUTOMATIC"
	// AssessmentTypeSemiAutomatic marks an automatic result later completed by an assessor.
	AssessmentTypeSemiAutomatic = "SEMI_AUTOMATIC"

	// FeedbackTypeManual marks assessor feedback.
	FeedbackTypeManual = "MANUAL"
	// FeedbackTypeAutomatic marks feedback derived from an equivalent element.
	FeedbackTypeAutomatic = "AUTOMATIC"
)

// ModelingSubmission is a student's diagram for a modeling exercise.
type ModelingSubmission struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ExerciseID  uint           `gorm:"not null;index" json:"exercise_id"`
	StudentID   uint           `gorm:"not null;index" json:"student_id"`
	DiagramType string         `gorm:"size:64" json:"diagram_type"`
	Model       datatypes.JSON `json:"model"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ModelingResult is the assessment of one submission. Only completed manual results are
// authoritative for the engine.
type ModelingResult struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	SubmissionID   uint               `gorm:"not null;uniqueIndex" json:"submission_id"`
	ExerciseID     uint               `gorm:"not null;index" json:"exercise_id"`
	AssessorID     *uint              `json:"assessor_id"`
	AssessmentType string             `gorm:"size:32;not null" json:"assessment_type"`
	Score          float64            `json:"score"`
	Completed      bool               `gorm:"not null;default:false" json:"completed"`
	CompletedAt    *time.Time         `json:"completed_at"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Feedback       []ModelingFeedback `gorm:"foreignKey:ResultID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"feedback"`
}

// IsManual reports whether an assessor authored the result.
func (r ModelingResult) IsManual() bool {
	return r.AssessmentType == AssessmentTypeManual || r.AssessmentType == AssessmentTypeSemiAutomatic
}

// ModelingFeedback is one judgement inside a result. General feedback has an empty ElementID.
type ModelingFeedback struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ResultID     uint      `gorm:"not null;index" json:"result_id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	ElementID    string    `gorm:"size:128" json:"element_id"`
	ElementType  string    `gorm:"size:64" json:"element_type"`
	Credits      float64   `json:"credits"`
	Text         string    `gorm:"type:text" json:"text"`
	Type         string    `gorm:"size:32;not null" json:"type"`
	CreatedAt    time.Time `json:"created_at"`
}
