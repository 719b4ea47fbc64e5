package compass

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/gema-compass/internal/diagram"
	"github.com/noah-isme/gema-compass/internal/similarity"
)

// AssessmentLookup is the authoritative record of completed manual assessments.
type AssessmentLookup interface {
	HasCompletedAssessment(ctx context.Context, submissionID uint) (bool, error)
}

// Statistics summarises the state of an engine.
type Statistics struct {
	ExerciseID         uint
	Submissions        int
	Identities         int
	AssessedIdentities int
	Assessed           int
	Waiting            int
	InAssessment       int
	LastUsed           time.Time
}

// Engine is the per-exercise calculation engine. Writers are serialised by an exclusive
// lock; queries take the read lock and never observe a partially updated identity table.
type Engine struct {
	exerciseID uint
	opts       options

	mu       sync.RWMutex
	index    *ModelIndex
	grades   *GradeStore
	waiting  []uint
	locked   map[uint]struct{}
	assessed map[uint]struct{}
	handled  map[uint]struct{}

	lastUsed atomic.Int64
}

// NewEngine creates an empty engine for an exercise.
func NewEngine(exerciseID uint, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.similarity == nil {
		o.similarity = similarity.Default
	}

	e := &Engine{
		exerciseID: exerciseID,
		opts:       o,
		index:      NewModelIndex(o.similarity, o.threshold),
		grades:     NewGradeStore(),
		locked:     make(map[uint]struct{}),
		assessed:   make(map[uint]struct{}),
		handled:    make(map[uint]struct{}),
	}
	e.touch()
	return e
}

// ExerciseID returns the exercise the engine serves.
func (e *Engine) ExerciseID() uint { return e.exerciseID }

// LastUsed returns the time of the most recent operation.
func (e *Engine) LastUsed() time.Time { return time.Unix(0, e.lastUsed.Load()) }

func (e *Engine) touch() { e.lastUsed.Store(e.opts.now().UnixNano()) }

// AddDiagram indexes a parsed submission.
func (e *Engine) AddDiagram(d *diagram.Diagram) {
	e.touch()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index.AddDiagram(d)
}

// IdentityFor returns the canonical identity of element, assigning one when needed.
func (e *Engine) IdentityFor(element diagram.Element) CanonicalID {
	e.touch()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.IdentityFor(element)
}

// Diagram returns the indexed diagram of a submission.
func (e *Engine) Diagram(submissionID uint) (*diagram.Diagram, bool) {
	e.touch()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Get(submissionID)
}

// Submissions returns every indexed submission id in insertion order.
func (e *Engine) Submissions() []uint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Submissions()
}

// GradeFor computes the grade of a submission. Unknown submissions yield an empty grade.
func (e *Engine) GradeFor(submissionID uint) Grade {
	e.touch()
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.index.Get(submissionID)
	if !ok {
		return EmptyGrade(submissionID)
	}
	return e.grades.grade(d, e.index.Lookup)
}

// RecordAssessment stores the manual feedback of a submission and propagates it to every
// equivalent element. General feedback and feedback on unknown elements are ignored.
// The submission leaves the waiting list and is never selected again.
func (e *Engine) RecordAssessment(submissionID uint, feedback []Feedback) {
	e.touch()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.grades.record(submissionID, e.resolve(submissionID, feedback))
	e.markAssessedLocked(submissionID)
}

// DetectConflicts groups, per canonical identity, the new feedback together with every
// feedback of another submission on the same identity whose credits differ by more than
// the tolerance. An empty map means no conflict.
func (e *Engine) DetectConflicts(submissionID uint, feedback []Feedback) map[CanonicalID][]Feedback {
	e.touch()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detectLocked(submissionID, e.resolve(submissionID, feedback))
}

// AssessSubmission detects the conflicts of a manual assessment and records it in one
// critical section, so two concurrent assessments of equivalent elements always see each
// other. It returns the conflict groups as DetectConflicts does.
func (e *Engine) AssessSubmission(submissionID uint, feedback []Feedback) map[CanonicalID][]Feedback {
	e.touch()
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.resolve(submissionID, feedback)
	conflicts := e.detectLocked(submissionID, items)
	e.grades.record(submissionID, items)
	e.markAssessedLocked(submissionID)
	return conflicts
}

func (e *Engine) detectLocked(submissionID uint, items []identifiedFeedback) map[CanonicalID][]Feedback {
	type feedbackKey struct {
		submissionID uint
		elementID    string
	}

	conflicts := make(map[CanonicalID][]Feedback)
	seen := make(map[CanonicalID]map[feedbackKey]struct{})
	add := func(identity CanonicalID, f Feedback) {
		if seen[identity] == nil {
			seen[identity] = make(map[feedbackKey]struct{})
		}
		key := feedbackKey{submissionID: f.SubmissionID, elementID: f.ElementID}
		if _, dup := seen[identity][key]; dup {
			return
		}
		seen[identity][key] = struct{}{}
		conflicts[identity] = append(conflicts[identity], f)
	}

	for _, item := range items {
		var disagreeing []Feedback
		for _, previous := range e.grades.history[item.identity] {
			if previous.SubmissionID == submissionID {
				continue
			}
			if absDiff(previous.Credits, item.feedback.Credits) <= e.opts.tolerance {
				continue
			}
			disagreeing = append(disagreeing, previous)
		}
		if len(disagreeing) == 0 {
			continue
		}
		add(item.identity, item.feedback)
		for _, previous := range disagreeing {
			add(item.identity, previous)
		}
	}
	return conflicts
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// resolve drops general feedback and attaches identities to the rest. Callers hold the lock.
func (e *Engine) resolve(submissionID uint, feedback []Feedback) []identifiedFeedback {
	items := make([]identifiedFeedback, 0, len(feedback))
	for _, f := range feedback {
		if !f.IsReferenced() {
			continue
		}
		f.SubmissionID = submissionID
		identity, ok := e.index.LookupElement(submissionID, f.ElementID)
		if !ok {
			continue
		}
		items = append(items, identifiedFeedback{identity: identity, feedback: f})
	}
	return items
}

// MarkAssessed flags submissions that already carry a completed manual assessment.
func (e *Engine) MarkAssessed(submissionIDs ...uint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range submissionIDs {
		e.markAssessedLocked(id)
	}
}

func (e *Engine) markAssessedLocked(submissionID uint) {
	e.assessed[submissionID] = struct{}{}
	delete(e.locked, submissionID)
	e.removeWaitingLocked(submissionID)
}

// IsAssessed reports whether the engine knows of a manual assessment of the submission.
func (e *Engine) IsAssessed(submissionID uint) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.assessed[submissionID]
	return ok
}

// Statistics returns a snapshot of the engine state.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Statistics{
		ExerciseID:         e.exerciseID,
		Submissions:        len(e.index.diagrams),
		Identities:         e.index.Size(),
		AssessedIdentities: e.grades.Size(),
		Assessed:           len(e.assessed),
		Waiting:            len(e.waiting),
		InAssessment:       len(e.locked),
		LastUsed:           e.LastUsed(),
	}
}
