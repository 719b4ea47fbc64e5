package compass

import (
	"math"

	"github.com/noah-isme/gema-compass/internal/diagram"
)

// CanonicalID is the identity shared by all elements of an exercise judged similar enough.
type CanonicalID int

// SimilarityFunc scores two elements of the same type in [0,1].
type SimilarityFunc func(a, b diagram.Element) float64

type elementKey struct {
	submissionID uint
	elementID    string
}

func keyOf(element diagram.Element) elementKey {
	return elementKey{submissionID: element.SubmissionID(), elementID: element.ID()}
}

// ModelIndex assigns canonical identities to elements. It is not safe for concurrent use;
// the owning Engine serialises access.
type ModelIndex struct {
	similarity      SimilarityFunc
	threshold       float64
	representatives []diagram.Element
	identities      map[elementKey]CanonicalID
	diagrams        map[uint]*diagram.Diagram
	order           []uint
}

// NewModelIndex creates an empty index.
func NewModelIndex(similarity SimilarityFunc, threshold float64) *ModelIndex {
	return &ModelIndex{
		similarity: similarity,
		threshold:  threshold,
		identities: make(map[elementKey]CanonicalID),
		diagrams:   make(map[uint]*diagram.Diagram),
	}
}

// IdentityFor returns the canonical identity of element, assigning one on first sight.
// The first representative scoring above the threshold wins; otherwise the element becomes
// a new representative.
func (idx *ModelIndex) IdentityFor(element diagram.Element) CanonicalID {
	key := keyOf(element)
	if id, ok := idx.identities[key]; ok {
		return id
	}

	for i, representative := range idx.representatives {
		if representative.Type() != element.Type() {
			continue
		}
		if idx.score(representative, element) > idx.threshold {
			id := CanonicalID(i)
			idx.identities[key] = id
			return id
		}
	}

	id := CanonicalID(len(idx.representatives))
	idx.representatives = append(idx.representatives, element)
	idx.identities[key] = id
	return id
}

// Lookup returns the identity already assigned to element without assigning a new one.
func (idx *ModelIndex) Lookup(element diagram.Element) (CanonicalID, bool) {
	id, ok := idx.identities[keyOf(element)]
	return id, ok
}

// LookupElement resolves a local element id of a submission.
func (idx *ModelIndex) LookupElement(submissionID uint, elementID string) (CanonicalID, bool) {
	id, ok := idx.identities[elementKey{submissionID: submissionID, elementID: elementID}]
	return id, ok
}

// AddDiagram stores the diagram and assigns identities to all of its elements in document order.
// Adding a submission twice keeps the first diagram.
func (idx *ModelIndex) AddDiagram(d *diagram.Diagram) {
	if d == nil {
		return
	}
	if _, exists := idx.diagrams[d.SubmissionID()]; exists {
		return
	}

	idx.diagrams[d.SubmissionID()] = d
	idx.order = append(idx.order, d.SubmissionID())
	for _, element := range d.Elements() {
		idx.IdentityFor(element)
	}
}

// Get returns the diagram of a submission.
func (idx *ModelIndex) Get(submissionID uint) (*diagram.Diagram, bool) {
	d, ok := idx.diagrams[submissionID]
	return d, ok
}

// Submissions returns the indexed submission ids in insertion order.
func (idx *ModelIndex) Submissions() []uint {
	out := make([]uint, len(idx.order))
	copy(out, idx.order)
	return out
}

// Size returns the number of canonical identities.
func (idx *ModelIndex) Size() int { return len(idx.representatives) }

// score calls the similarity capability and fails closed on panics and out-of-range values.
func (idx *ModelIndex) score(a, b diagram.Element) (s float64) {
	defer func() {
		if recover() != nil {
			s = 0
		}
	}()

	if idx.similarity == nil {
		return 0
	}
	s = idx.similarity(a, b)
	if math.IsNaN(s) || s < 0 || s > 1 {
		return 0
	}
	return s
}
