package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-compass/internal/compass"
	"github.com/noah-isme/gema-compass/internal/models"
)

// ModelingSubmissionCreateRequest carries a diagram uploaded for an exercise.
type ModelingSubmissionCreateRequest struct {
	ExerciseID uint            `json:"-" validate:"required,gt=0"`
	StudentID  uint            `json:"student_id" validate:"required,gt=0"`
	Model      json.RawMessage `json:"model" validate:"required"`
}

// ModelingSubmissionResponse describes a stored submission.
type ModelingSubmissionResponse struct {
	ID          uint      `json:"id"`
	ExerciseID  uint      `json:"exercise_id"`
	StudentID   uint      `json:"student_id"`
	DiagramType string    `json:"diagram_type"`
	Elements    int       `json:"elements"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewModelingSubmissionResponse converts a submission model.
func NewModelingSubmissionResponse(model models.ModelingSubmission, elements int) ModelingSubmissionResponse {
	return ModelingSubmissionResponse{
		ID:          model.ID,
		ExerciseID:  model.ExerciseID,
		StudentID:   model.StudentID,
		DiagramType: model.DiagramType,
		Elements:    elements,
		CreatedAt:   model.CreatedAt,
	}
}

// FeedbackRequest is one assessor judgement. Omit element_id for general feedback.
type FeedbackRequest struct {
	ElementID   string  `json:"element_id" validate:"omitempty,max=128"`
	ElementType string  `json:"element_type" validate:"omitempty,max=64"`
	Credits     float64 `json:"credits" validate:"gte=-1000,lte=1000"`
	Text        string  `json:"text" validate:"omitempty,max=4000"`
}

// AssessmentRequest submits the manual assessment of one submission.
type AssessmentRequest struct {
	Feedback []FeedbackRequest `json:"feedback" validate:"required,min=1,dive"`
}

// ConflictEntryResponse is one conflicting judgement.
type ConflictEntryResponse struct {
	SubmissionID uint    `json:"submission_id"`
	ElementID    string  `json:"element_id"`
	AssessorID   uint    `json:"assessor_id,omitempty"`
	Credits      float64 `json:"credits"`
	Text         string  `json:"text,omitempty"`
}

// ConflictResponse describes a stored conflict.
type ConflictResponse struct {
	ID           uint                    `json:"id"`
	ExerciseID   uint                    `json:"exercise_id"`
	SubmissionID uint                    `json:"submission_id"`
	ElementID    string                  `json:"element_id"`
	CanonicalID  int                     `json:"canonical_id"`
	State        string                  `json:"state"`
	Entries      []ConflictEntryResponse `json:"entries"`
	ResolvedBy   *uint                   `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time              `json:"resolved_at,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// NewConflictResponse converts a conflict model. Undecodable entries are reported as empty.
func NewConflictResponse(model models.ModelAssessmentConflict) ConflictResponse {
	entries := []ConflictEntryResponse{}
	var stored []models.ConflictEntry
	if len(model.Entries) > 0 && json.Unmarshal(model.Entries, &stored) == nil {
		for _, entry := range stored {
			entries = append(entries, ConflictEntryResponse(entry))
		}
	}

	return ConflictResponse{
		ID:           model.ID,
		ExerciseID:   model.ExerciseID,
		SubmissionID: model.SubmissionID,
		ElementID:    model.ElementID,
		CanonicalID:  model.CanonicalID,
		State:        model.State,
		Entries:      entries,
		ResolvedBy:   model.ResolvedBy,
		ResolvedAt:   model.ResolvedAt,
		CreatedAt:    model.CreatedAt,
	}
}

// NewConflictResponseSlice converts a list of conflicts.
func NewConflictResponseSlice(items []models.ModelAssessmentConflict) []ConflictResponse {
	responses := make([]ConflictResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewConflictResponse(item))
	}
	return responses
}

// AssessmentResponse reports the outcome of a manual assessment.
type AssessmentResponse struct {
	SubmissionID        uint               `json:"submission_id"`
	Score               float64            `json:"score"`
	Conflicts           []ConflictResponse `json:"conflicts"`
	AutomaticAssessment int                `json:"automatic_assessments"`
}

// GradedElementResponse is the propagated score of one element.
type GradedElementResponse struct {
	ElementID   string  `json:"element_id"`
	ElementType string  `json:"element_type"`
	Identity    int     `json:"identity"`
	Points      float64 `json:"points"`
	Comment     string  `json:"comment,omitempty"`
	Propagated  bool    `json:"propagated"`
}

// GradeResponse is the automatic grade of a submission.
type GradeResponse struct {
	SubmissionID uint                    `json:"submission_id"`
	Total        float64                 `json:"total"`
	Score        float64                 `json:"score"`
	Confidence   float64                 `json:"confidence"`
	Coverage     float64                 `json:"coverage"`
	Elements     []GradedElementResponse `json:"elements"`
}

// NewGradeResponse converts an engine grade. Score is the sum of rounded element points.
func NewGradeResponse(grade compass.Grade) GradeResponse {
	elements := make([]GradedElementResponse, 0, len(grade.Elements))
	var score float64
	for _, element := range grade.Elements {
		points := compass.RoundPoints(element.Points)
		score += points
		elements = append(elements, GradedElementResponse{
			ElementID:   element.ElementID,
			ElementType: string(element.ElementType),
			Identity:    int(element.Identity),
			Points:      points,
			Comment:     element.Comment,
			Propagated:  element.Propagated,
		})
	}

	return GradeResponse{
		SubmissionID: grade.SubmissionID,
		Total:        grade.Total,
		Score:        score,
		Confidence:   grade.Confidence,
		Coverage:     grade.Coverage,
		Elements:     elements,
	}
}

// NextOptimalResponse is the submission handed to an assessor.
type NextOptimalResponse struct {
	ExerciseID   uint `json:"exercise_id"`
	SubmissionID uint `json:"submission_id"`
}

// WaitingListResponse lists the submissions ready for assessment.
type WaitingListResponse struct {
	ExerciseID  uint   `json:"exercise_id"`
	Submissions []uint `json:"submissions"`
}

// StatisticsResponse summarises an exercise engine.
type StatisticsResponse struct {
	ExerciseID         uint      `json:"exercise_id"`
	Submissions        int       `json:"submissions"`
	Identities         int       `json:"identities"`
	AssessedIdentities int       `json:"assessed_identities"`
	Assessed           int       `json:"assessed"`
	Waiting            int       `json:"waiting"`
	InAssessment       int       `json:"in_assessment"`
	LastUsed           time.Time `json:"last_used"`
}

// NewStatisticsResponse converts engine statistics.
func NewStatisticsResponse(stats compass.Statistics) StatisticsResponse {
	return StatisticsResponse(stats)
}
