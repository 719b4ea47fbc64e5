package compass

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-compass/internal/diagram"
)

func exactName(a, b diagram.Element) float64 {
	if strings.EqualFold(a.Name(), b.Name()) {
		return 1
	}
	return 0
}

// classModel builds a class diagram whose classes get the ids c1..cN.
func classModel(t *testing.T, submissionID uint, names ...string) *diagram.Diagram {
	t.Helper()

	elements := make([]string, 0, len(names))
	for i, name := range names {
		elements = append(elements, fmt.Sprintf(`{"id": "c%d", "name": %q, "type": "Class"}`, i+1, name))
	}
	raw := fmt.Sprintf(`{"type": "ClassDiagram", "elements": [%s], "relationships": []}`, strings.Join(elements, ","))

	d, err := diagram.Parse([]byte(raw), submissionID)
	require.NoError(t, err)
	return d
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return NewEngine(1, append([]Option{WithSimilarity(exactName)}, opts...)...)
}

type fakeLookup struct {
	mu        sync.Mutex
	completed map[uint]bool
	failing   map[uint]bool
	calls     int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{completed: map[uint]bool{}, failing: map[uint]bool{}}
}

func (f *fakeLookup) HasCompletedAssessment(ctx context.Context, submissionID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[submissionID] {
		return false, fmt.Errorf("lookup %d unavailable", submissionID)
	}
	return f.completed[submissionID], nil
}
