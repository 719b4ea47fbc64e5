package diagram

import (
	"fmt"
	"strings"
)

func (b *base) setOwner(owner string) { b.owner = owner }

type ownable interface {
	setOwner(owner string)
}

type builder struct {
	submissionID  uint
	kind          Kind
	rules         kindRules
	order         []Element
	relationships []Element
	byID          map[string]Element
	declaredOwner map[string]string
	packages      map[string]struct{}
	parents       map[string]string
	children      map[string][]string
}

func newBuilder(submissionID uint, kind Kind, rules kindRules) *builder {
	return &builder{
		submissionID:  submissionID,
		kind:          kind,
		rules:         rules,
		byID:          make(map[string]Element),
		declaredOwner: make(map[string]string),
		packages:      make(map[string]struct{}),
		parents:       make(map[string]string),
		children:      make(map[string][]string),
	}
}

// createElements is the first pass: every known element is created and keyed by its local id.
// Element types the diagram kind does not know are skipped.
func (b *builder) createElements(raw []rawElement) {
	for _, r := range raw {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		if _, duplicate := b.byID[id]; duplicate {
			continue
		}
		typ := ElementType(strings.TrimSpace(r.Type))
		v, known := b.rules.elements[typ]
		if !known {
			continue
		}

		common := base{id: id, typ: typ, name: strings.TrimSpace(r.Name), submissionID: b.submissionID}
		var element Element
		switch v {
		case variantClass:
			element = &Class{base: common}
		case variantPackage:
			element = &Package{base: common}
			b.packages[id] = struct{}{}
		case variantAttribute:
			name, attrType := parseAttributeLabel(r.Name)
			element = &Attribute{base: common, AttributeName: name, AttributeType: attrType}
		case variantMethod:
			name, params, returnType := parseMethodLabel(r.Name)
			element = &Method{base: common, MethodName: name, Parameters: params, ReturnType: returnType}
		default:
			element = &Node{base: common, Stereotype: strings.TrimSpace(r.Stereotype)}
		}

		if r.Owner != nil {
			b.declaredOwner[id] = strings.TrimSpace(*r.Owner)
		}
		b.byID[id] = element
		b.order = append(b.order, element)
	}
}

// resolveOwners is the second pass: declared owners become parent/child links.
// An owner that cannot be resolved leaves the element parentless.
func (b *builder) resolveOwners() {
	for _, element := range b.order {
		id := element.ID()
		ownerID := b.declaredOwner[id]
		if ownerID == "" || ownerID == id {
			continue
		}
		parent, ok := b.byID[ownerID]
		if !ok {
			continue
		}

		element.(ownable).setOwner(ownerID)
		b.parents[id] = ownerID
		b.children[ownerID] = append(b.children[ownerID], id)

		class, isClass := parent.(*Class)
		if !isClass {
			continue
		}
		switch member := element.(type) {
		case *Attribute:
			class.Attributes = append(class.Attributes, member)
		case *Method:
			class.Methods = append(class.Methods, member)
		}
	}
}

func (b *builder) endpoint(id string) (Element, bool) {
	element, ok := b.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	if _, allowed := b.rules.endpoints[element.Type()]; !allowed {
		return nil, false
	}
	return element, true
}

func (b *builder) isPackage(id string) bool {
	_, ok := b.packages[strings.TrimSpace(id)]
	return ok
}

func (b *builder) createRelationships(raw []rawRelationship) error {
	for _, r := range raw {
		typ := ElementType(strings.TrimSpace(r.Type))
		if _, known := b.rules.relationships[typ]; !known {
			continue
		}
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		if _, duplicate := b.byID[id]; duplicate {
			continue
		}

		source, sourceOK := b.endpoint(r.Source.Element)
		target, targetOK := b.endpoint(r.Target.Element)
		if !sourceOK || !targetOK {
			// Class diagrams may connect packages; such relationships are not assessed.
			if b.rules.packageCarveOut && (b.isPackage(r.Source.Element) || b.isPackage(r.Target.Element)) {
				continue
			}
			return fmt.Errorf("relationship %s (source %q, target %q)", id, r.Source.Element, r.Target.Element)
		}

		rel := &Relationship{
			base:   base{id: id, typ: typ, name: strings.TrimSpace(r.Name), submissionID: b.submissionID},
			Source: newEndpoint(source, r.Source),
			Target: newEndpoint(target, r.Target),
		}
		for _, m := range r.Messages {
			msg := parseMessageLabel(m.Name)
			msg.Direction = strings.TrimSpace(m.Direction)
			rel.Messages = append(rel.Messages, msg)
		}

		b.byID[id] = rel
		b.relationships = append(b.relationships, rel)
	}
	return nil
}

func newEndpoint(element Element, raw rawEndpoint) Endpoint {
	return Endpoint{
		ElementID:    element.ID(),
		ElementName:  element.Name(),
		ElementType:  element.Type(),
		Multiplicity: strings.TrimSpace(raw.Multiplicity),
		Role:         strings.TrimSpace(raw.Role),
		Direction:    strings.TrimSpace(raw.Direction),
	}
}

func (b *builder) diagram() *Diagram {
	elements := make([]Element, 0, len(b.order)+len(b.relationships))
	elements = append(elements, b.order...)
	elements = append(elements, b.relationships...)

	positions := make(map[string]int, len(elements))
	for i, element := range elements {
		positions[element.ID()] = i
	}

	return &Diagram{
		submissionID: b.submissionID,
		kind:         b.kind,
		elements:     elements,
		positions:    positions,
		parents:      b.parents,
		children:     b.children,
	}
}
