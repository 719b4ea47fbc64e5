package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// ConflictStateUnhandled is a freshly detected disagreement.
	ConflictStateUnhandled = "unhandled"
	// ConflictStateEscalated is a disagreement handed to an instructor.
	ConflictStateEscalated = "escalated"
	// ConflictStateResolved is terminal.
	ConflictStateResolved = "resolved"
)

// ModelAssessmentConflict records assessors disagreeing on equivalent elements.
type ModelAssessmentConflict struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ExerciseID   uint           `gorm:"not null;index" json:"exercise_id"`
	SubmissionID uint           `gorm:"not null;index" json:"submission_id"`
	ElementID    string         `gorm:"size:128" json:"element_id"`
	CanonicalID  int            `gorm:"not null" json:"canonical_id"`
	State        string         `gorm:"size:16;not null;index" json:"state"`
	Entries      datatypes.JSON `json:"entries"`
	ResolvedBy   *uint          `json:"resolved_by"`
	ResolvedAt   *time.Time     `json:"resolved_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ConflictEntry is one conflicting judgement stored inside Entries.
type ConflictEntry struct {
	SubmissionID uint    `json:"submission_id"`
	ElementID    string  `json:"element_id"`
	AssessorID   uint    `json:"assessor_id,omitempty"`
	Credits      float64 `json:"credits"`
	Text         string  `json:"text,omitempty"`
}
