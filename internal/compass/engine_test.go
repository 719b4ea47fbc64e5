package compass

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGradePropagatesToEquivalentElements(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer", "Order"))
	engine.AddDiagram(classModel(t, 2, "Customer", "Order"))
	engine.AddDiagram(classModel(t, 3, "Customer", "Invoice"))

	engine.RecordAssessment(1, []Feedback{
		{ElementID: "c1", Credits: 1, Text: "good"},
		{ElementID: "c2", Credits: 2, Text: "complete"},
	})

	second := engine.GradeFor(2)
	require.InDelta(t, 3.0, second.Total, 1e-9)
	require.InDelta(t, 1.0, second.Coverage, 1e-9)
	require.InDelta(t, 1.0, second.Confidence, 1e-9)
	require.Len(t, second.Elements, 2)
	require.True(t, second.Elements[0].Propagated)
	require.Equal(t, "good", second.Elements[0].Comment)

	third := engine.GradeFor(3)
	require.InDelta(t, 1.0, third.Total, 1e-9)
	require.InDelta(t, 0.5, third.Coverage, 1e-9)
	require.Len(t, third.Points, 1)

	own := engine.GradeFor(1)
	require.InDelta(t, 3.0, own.Total, 1e-9)
	require.InDelta(t, 0.0, own.Confidence, 1e-9, "manual feedback is not propagated")
	require.False(t, own.Elements[0].Propagated)
}

func TestRecordAssessmentLastManualWriterWins(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer"))
	engine.AddDiagram(classModel(t, 2, "Customer"))
	engine.AddDiagram(classModel(t, 3, "Customer"))

	engine.RecordAssessment(1, []Feedback{{ElementID: "c1", Credits: 1}})
	engine.RecordAssessment(2, []Feedback{{ElementID: "c1", Credits: 0.5}})

	require.InDelta(t, 0.5, engine.GradeFor(3).Total, 1e-9)
}

func TestRecordAssessmentIgnoresGeneralAndUnknownFeedback(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer"))
	engine.AddDiagram(classModel(t, 2, "Customer"))

	engine.RecordAssessment(1, []Feedback{
		{Credits: 5, Text: "overall fine"},
		{ElementID: "ghost", Credits: 3},
	})

	require.True(t, engine.GradeFor(2).IsEmpty())
	require.True(t, engine.IsAssessed(1))
	require.Equal(t, 0, engine.Statistics().AssessedIdentities)
}

func TestGradeForUnknownSubmissionIsEmpty(t *testing.T) {
	engine := newTestEngine(t)

	grade := engine.GradeFor(99)
	require.True(t, grade.IsEmpty())
	require.Equal(t, uint(99), grade.SubmissionID)
	require.NotNil(t, grade.Points)
	require.Zero(t, grade.Coverage)
}

func TestConfidenceFallsBackToCountsForZeroCredits(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer", "Order"))
	engine.AddDiagram(classModel(t, 2, "Customer", "Order"))

	engine.RecordAssessment(1, []Feedback{{ElementID: "c1", Credits: 0}})
	engine.RecordAssessment(2, []Feedback{{ElementID: "c2", Credits: 0}})

	grade := engine.GradeFor(2)
	require.InDelta(t, 0.5, grade.Confidence, 1e-9)
	require.InDelta(t, 1.0, grade.Coverage, 1e-9)
}

func TestDetectConflictsIsSymmetric(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer"))
	engine.AddDiagram(classModel(t, 2, "Customer"))

	first := Feedback{ElementID: "c1", Credits: 1, AssessorID: 10}
	second := Feedback{ElementID: "c1", Credits: 2, AssessorID: 20}

	require.Empty(t, engine.DetectConflicts(1, []Feedback{first}))
	engine.RecordAssessment(1, []Feedback{first})

	conflicts := engine.DetectConflicts(2, []Feedback{second})
	require.Len(t, conflicts, 1)
	for _, group := range conflicts {
		require.Len(t, group, 2)
		require.Equal(t, uint(2), group[0].SubmissionID)
		require.Equal(t, uint(1), group[1].SubmissionID)
	}

	engine.RecordAssessment(2, []Feedback{second})
	reverse := engine.DetectConflicts(1, []Feedback{first})
	require.Len(t, reverse, 1)
	for _, group := range reverse {
		require.Len(t, group, 2)
		require.ElementsMatch(t, []uint{1, 2}, []uint{group[0].SubmissionID, group[1].SubmissionID})
	}
}

func TestDetectConflictsWithinToleranceAndGeneralFeedback(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer"))
	engine.AddDiagram(classModel(t, 2, "Customer"))
	engine.RecordAssessment(1, []Feedback{{ElementID: "c1", Credits: 1}})

	require.Empty(t, engine.DetectConflicts(2, []Feedback{{ElementID: "c1", Credits: 1.005}}))
	require.Empty(t, engine.DetectConflicts(2, []Feedback{{Credits: 4, Text: "general"}}))
}

func TestReassessmentReplacesHistory(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer"))
	engine.AddDiagram(classModel(t, 2, "Customer"))

	engine.RecordAssessment(1, []Feedback{{ElementID: "c1", Credits: 1}})
	engine.RecordAssessment(1, []Feedback{{ElementID: "c1", Credits: 2}})

	require.Empty(t, engine.DetectConflicts(2, []Feedback{{ElementID: "c1", Credits: 2}}))
	require.Len(t, engine.DetectConflicts(2, []Feedback{{ElementID: "c1", Credits: 1}}), 1)
}

func TestAssessSubmissionRecordsAndReturnsConflicts(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "Customer"))
	engine.AddDiagram(classModel(t, 2, "Customer"))

	require.Empty(t, engine.AssessSubmission(1, []Feedback{{ElementID: "c1", Credits: 1}}))
	require.True(t, engine.IsAssessed(1))

	conflicts := engine.AssessSubmission(2, []Feedback{{ElementID: "c1", Credits: 3}})
	require.Len(t, conflicts, 1)
	require.True(t, engine.IsAssessed(2))
	require.InDelta(t, 3.0, engine.GradeFor(1).Total, 1e-9, "latest manual credits are the assessment")
}

func TestConcurrentDisagreeingAssessmentsAlwaysConflict(t *testing.T) {
	for round := 0; round < 50; round++ {
		engine := newTestEngine(t)
		engine.AddDiagram(classModel(t, 1, "Customer"))
		engine.AddDiagram(classModel(t, 2, "Customer"))

		results := make([]map[CanonicalID][]Feedback, 2)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, credits := range []float64{1, 3} {
			wg.Add(1)
			go func(slot int, credits float64) {
				defer wg.Done()
				<-start
				results[slot] = engine.AssessSubmission(uint(slot+1), []Feedback{{ElementID: "c1", Credits: credits}})
			}(i, credits)
		}
		close(start)
		wg.Wait()

		detected := 0
		for _, conflicts := range results {
			if len(conflicts) > 0 {
				detected++
				for _, group := range conflicts {
					require.Len(t, group, 2)
				}
			}
		}
		require.Equal(t, 1, detected, "round %d", round)
	}
}
