package diagram

// Kind discriminates the diagram families the parser understands.
type Kind string

const (
	KindClass         Kind = "ClassDiagram"
	KindActivity      Kind = "ActivityDiagram"
	KindUseCase       Kind = "UseCaseDiagram"
	KindCommunication Kind = "CommunicationDiagram"
	KindComponent     Kind = "ComponentDiagram"
	KindDeployment    Kind = "DeploymentDiagram"
)

// Diagram is the immutable, parsed form of one submission's model.
type Diagram struct {
	submissionID uint
	kind         Kind
	elements     []Element
	positions    map[string]int
	parents      map[string]string
	children     map[string][]string
}

// SubmissionID returns the submission the diagram belongs to.
func (d *Diagram) SubmissionID() uint { return d.submissionID }

// Kind returns the diagram kind.
func (d *Diagram) Kind() Kind { return d.kind }

// Len returns the number of assessable elements, relationships included.
func (d *Diagram) Len() int { return len(d.elements) }

// Elements returns every element in document order; relationships follow the other elements.
func (d *Diagram) Elements() []Element {
	out := make([]Element, len(d.elements))
	copy(out, d.elements)
	return out
}

// Element looks up an element by its local id.
func (d *Diagram) Element(id string) (Element, bool) {
	pos, ok := d.positions[id]
	if !ok {
		return nil, false
	}
	return d.elements[pos], true
}

// Parent returns the resolved owner of an element.
func (d *Diagram) Parent(id string) (Element, bool) {
	parentID, ok := d.parents[id]
	if !ok {
		return nil, false
	}
	return d.Element(parentID)
}

// Children returns the elements owned by id in document order.
func (d *Diagram) Children(id string) []Element {
	ids := d.children[id]
	out := make([]Element, 0, len(ids))
	for _, childID := range ids {
		if child, ok := d.Element(childID); ok {
			out = append(out, child)
		}
	}
	return out
}

// Relationships returns the relationship elements of the diagram.
func (d *Diagram) Relationships() []*Relationship {
	out := make([]*Relationship, 0)
	for _, element := range d.elements {
		if rel, ok := element.(*Relationship); ok {
			out = append(out, rel)
		}
	}
	return out
}

// ElementsOfType filters the diagram's elements by type.
func (d *Diagram) ElementsOfType(types ...ElementType) []Element {
	wanted := make(map[ElementType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	out := make([]Element, 0)
	for _, element := range d.elements {
		if _, ok := wanted[element.Type()]; ok {
			out = append(out, element)
		}
	}
	return out
}
