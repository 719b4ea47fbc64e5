package compass

import (
	"math"
	"strings"

	"github.com/noah-isme/gema-compass/internal/diagram"
)

// Feedback is one assessor judgement on a submission. General feedback has no ElementID.
type Feedback struct {
	ID           uint
	SubmissionID uint
	ElementID    string
	ElementType  string
	Credits      float64
	Text         string
	AssessorID   uint
}

// IsReferenced reports whether the feedback is tied to a diagram element.
func (f Feedback) IsReferenced() bool {
	return strings.TrimSpace(f.ElementID) != ""
}

// Assessment is the score currently attached to a canonical identity.
type Assessment struct {
	Identity     CanonicalID
	Score        float64
	Comment      string
	SubmissionID uint
	AssessorID   uint
}

// GradedElement is the propagated score of one element of a submission.
type GradedElement struct {
	ElementID   string
	ElementType diagram.ElementType
	Identity    CanonicalID
	Points      float64
	Comment     string
	Propagated  bool
}

// Grade is the automatic view of a submission computed from the identity table.
type Grade struct {
	SubmissionID uint
	Points       map[CanonicalID]float64
	Comments     map[CanonicalID]string
	Elements     []GradedElement
	Total        float64
	Confidence   float64
	Coverage     float64
}

// IsEmpty reports whether no element of the submission matched an assessed identity.
func (g Grade) IsEmpty() bool { return len(g.Elements) == 0 }

// EmptyGrade is the grade of a submission nothing is known about.
func EmptyGrade(submissionID uint) Grade {
	return Grade{
		SubmissionID: submissionID,
		Points:       map[CanonicalID]float64{},
		Comments:     map[CanonicalID]string{},
		Elements:     []GradedElement{},
	}
}

type identifiedFeedback struct {
	identity CanonicalID
	feedback Feedback
}

// GradeStore holds the per-identity assessment table and the manual feedback history.
// Like ModelIndex it relies on the Engine for synchronisation.
type GradeStore struct {
	entries map[CanonicalID]Assessment
	history map[CanonicalID][]Feedback
	manual  map[uint]map[CanonicalID]struct{}
}

// NewGradeStore creates an empty store.
func NewGradeStore() *GradeStore {
	return &GradeStore{
		entries: make(map[CanonicalID]Assessment),
		history: make(map[CanonicalID][]Feedback),
		manual:  make(map[uint]map[CanonicalID]struct{}),
	}
}

// record stores a manual assessment of one submission. A later manual assessment of the
// same identity overwrites the table entry; a re-assessment of the same submission replaces
// its earlier history contributions.
func (s *GradeStore) record(submissionID uint, items []identifiedFeedback) {
	for identity := range s.manual[submissionID] {
		s.history[identity] = withoutSubmission(s.history[identity], submissionID)
	}

	assessed := make(map[CanonicalID]struct{}, len(items))
	for _, item := range items {
		assessed[item.identity] = struct{}{}
		s.entries[item.identity] = Assessment{
			Identity:     item.identity,
			Score:        item.feedback.Credits,
			Comment:      item.feedback.Text,
			SubmissionID: submissionID,
			AssessorID:   item.feedback.AssessorID,
		}
		s.history[item.identity] = append(s.history[item.identity], item.feedback)
	}
	s.manual[submissionID] = assessed
}

func withoutSubmission(feedback []Feedback, submissionID uint) []Feedback {
	out := feedback[:0:0]
	for _, f := range feedback {
		if f.SubmissionID != submissionID {
			out = append(out, f)
		}
	}
	return out
}

// Entry returns the assessment attached to an identity.
func (s *GradeStore) Entry(identity CanonicalID) (Assessment, bool) {
	entry, ok := s.entries[identity]
	return entry, ok
}

// History returns the manual feedback recorded against an identity across submissions.
func (s *GradeStore) History(identity CanonicalID) []Feedback {
	out := make([]Feedback, len(s.history[identity]))
	copy(out, s.history[identity])
	return out
}

// Size returns the number of assessed identities.
func (s *GradeStore) Size() int { return len(s.entries) }

// manuallyAssessed reports whether the submission itself carries manual feedback for identity.
func (s *GradeStore) manuallyAssessed(submissionID uint, identity CanonicalID) bool {
	_, ok := s.manual[submissionID][identity]
	return ok
}

// grade computes the Grade of a diagram using identity to resolve its elements.
func (s *GradeStore) grade(d *diagram.Diagram, identity func(diagram.Element) (CanonicalID, bool)) Grade {
	grade := EmptyGrade(d.SubmissionID())
	elements := d.Elements()
	if len(elements) == 0 {
		return grade
	}

	var magnitude, propagated float64
	var propagatedCount int
	for _, element := range elements {
		id, ok := identity(element)
		if !ok {
			continue
		}
		entry, ok := s.entries[id]
		if !ok {
			continue
		}

		isPropagated := !s.manuallyAssessed(d.SubmissionID(), id)
		grade.Elements = append(grade.Elements, GradedElement{
			ElementID:   element.ID(),
			ElementType: element.Type(),
			Identity:    id,
			Points:      entry.Score,
			Comment:     entry.Comment,
			Propagated:  isPropagated,
		})
		grade.Points[id] = entry.Score
		grade.Comments[id] = entry.Comment
		grade.Total += entry.Score
		magnitude += math.Abs(entry.Score)
		if isPropagated {
			propagated += math.Abs(entry.Score)
			propagatedCount++
		}
	}

	matched := len(grade.Elements)
	if matched == 0 {
		return grade
	}

	grade.Coverage = float64(matched) / float64(len(elements))
	if magnitude > 0 {
		grade.Confidence = propagated / magnitude
	} else {
		grade.Confidence = float64(propagatedCount) / float64(matched)
	}
	return grade
}
