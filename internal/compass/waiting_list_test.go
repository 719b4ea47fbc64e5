package compass

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextOptimalPrefersLowestCoverage(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "A", "B"))
	engine.AddDiagram(classModel(t, 2, "A", "C"))
	engine.AddDiagram(classModel(t, 3, "D", "E"))
	engine.RecordAssessment(1, []Feedback{{ElementID: "c1", Credits: 1}, {ElementID: "c2", Credits: 1}})

	id, ok := engine.NextOptimalModel()
	require.True(t, ok)
	require.Equal(t, uint(3), id)

	id, ok = engine.NextOptimalModel()
	require.True(t, ok)
	require.Equal(t, uint(2), id)

	_, ok = engine.NextOptimalModel()
	require.False(t, ok, "assessed and queued submissions are never selected")
}

func TestNextOptimalPrefersKnowledgeGainThenLowestID(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 4, "X"))
	engine.AddDiagram(classModel(t, 5, "Y"))
	engine.AddDiagram(classModel(t, 6, "X"))

	var order []uint
	for {
		id, ok := engine.NextOptimalModel()
		if !ok {
			break
		}
		order = append(order, id)
	}
	require.Equal(t, []uint{4, 6, 5}, order)
}

func TestWaitingListIsBoundedAndUnique(t *testing.T) {
	engine := newTestEngine(t, WithWaitingListSize(10))
	for i := uint(1); i <= 15; i++ {
		engine.AddDiagram(classModel(t, i, fmt.Sprintf("Class%d", i)))
	}

	list := engine.WaitingList(context.Background(), nil)
	require.Len(t, list, 10)

	seen := map[uint]struct{}{}
	for _, id := range list {
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}

	engine.RecordAssessment(list[0], nil)
	next := engine.WaitingList(context.Background(), nil)
	require.Len(t, next, 10)
	require.NotContains(t, next, list[0])
}

func TestWaitingListDropsExternallyAssessedSubmissions(t *testing.T) {
	engine := newTestEngine(t, WithWaitingListSize(2))
	engine.AddDiagram(classModel(t, 1, "A"))
	engine.AddDiagram(classModel(t, 2, "B"))
	engine.AddDiagram(classModel(t, 3, "C"))

	lookup := newFakeLookup()
	lookup.completed[1] = true

	list := engine.WaitingList(context.Background(), lookup)
	require.Equal(t, []uint{2, 3}, list)
	require.True(t, engine.IsAssessed(1))
}

func TestWaitingListWithholdsEntriesWhenLookupFails(t *testing.T) {
	engine := newTestEngine(t, WithWaitingListSize(2))
	engine.AddDiagram(classModel(t, 1, "A"))
	engine.AddDiagram(classModel(t, 2, "B"))

	lookup := newFakeLookup()
	lookup.failing[1] = true

	require.Equal(t, []uint{2}, engine.WaitingList(context.Background(), lookup))
	require.Equal(t, 2, engine.Statistics().Waiting)
	require.False(t, engine.IsAssessed(1))
}

func TestAssignNextHandsOutEachSubmissionOnce(t *testing.T) {
	engine := newTestEngine(t, WithWaitingListSize(3))
	for i := uint(1); i <= 8; i++ {
		engine.AddDiagram(classModel(t, i, fmt.Sprintf("Class%d", i)))
	}

	var (
		mu       sync.Mutex
		assigned = map[uint]int{}
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok := engine.AssignNext(context.Background(), newFakeLookup())
			if !ok {
				return
			}
			mu.Lock()
			assigned[id]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, assigned, 8)
	for id, count := range assigned {
		require.Equal(t, 1, count, "submission %d handed out twice", id)
		require.True(t, engine.InAssessment(id))
	}

	_, ok := engine.AssignNext(context.Background(), nil)
	require.False(t, ok)
}

func TestReleaseWithAndWithoutRequeue(t *testing.T) {
	engine := newTestEngine(t, WithWaitingListSize(1))
	engine.AddDiagram(classModel(t, 1, "A"))
	engine.AddDiagram(classModel(t, 2, "B"))

	id, ok := engine.AssignNext(context.Background(), nil)
	require.True(t, ok)
	require.Equal(t, uint(1), id)

	engine.Release(1, false)
	require.False(t, engine.InAssessment(1))
	require.Equal(t, []uint{2}, engine.WaitingList(context.Background(), nil))

	engine.Release(2, true)
	engine.Release(1, true)
	require.Equal(t, []uint{1}, engine.WaitingList(context.Background(), nil))
}

func TestRecordAssessmentUnlocksSubmission(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddDiagram(classModel(t, 1, "A"))

	id, ok := engine.AssignNext(context.Background(), nil)
	require.True(t, ok)
	engine.RecordAssessment(id, []Feedback{{ElementID: "c1", Credits: 1}})

	stats := engine.Statistics()
	require.Equal(t, 0, stats.InAssessment)
	require.Equal(t, 1, stats.Assessed)
	require.Empty(t, engine.WaitingList(context.Background(), nil))
}
