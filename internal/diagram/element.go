package diagram

// ElementType names the concrete type of a diagram element as written by the modeling editor.
type ElementType string

// Class diagram element types.
const (
	TypePackage       ElementType = "Package"
	TypeClass         ElementType = "Class"
	TypeAbstractClass ElementType = "AbstractClass"
	TypeInterface     ElementType = "Interface"
	TypeEnumeration   ElementType = "Enumeration"
	TypeAttribute     ElementType = "ClassAttribute"
	TypeMethod        ElementType = "ClassMethod"

	TypeClassBidirectional  ElementType = "ClassBidirectional"
	TypeClassUnidirectional ElementType = "ClassUnidirectional"
	TypeClassInheritance    ElementType = "ClassInheritance"
	TypeClassRealization    ElementType = "ClassRealization"
	TypeClassDependency     ElementType = "ClassDependency"
	TypeClassAggregation    ElementType = "ClassAggregation"
	TypeClassComposition    ElementType = "ClassComposition"
)

// Activity diagram element types.
const (
	TypeActivity            ElementType = "Activity"
	TypeActivityAction      ElementType = "ActivityActionNode"
	TypeActivityFinal       ElementType = "ActivityFinalNode"
	TypeActivityFork        ElementType = "ActivityForkNode"
	TypeActivityForkH       ElementType = "ActivityForkNodeHorizontal"
	TypeActivityInitial     ElementType = "ActivityInitialNode"
	TypeActivityMerge       ElementType = "ActivityMergeNode"
	TypeActivityObject      ElementType = "ActivityObjectNode"
	TypeActivityControlFlow ElementType = "ActivityControlFlow"
)

// Use case diagram element types.
const (
	TypeUseCase               ElementType = "UseCase"
	TypeUseCaseActor          ElementType = "UseCaseActor"
	TypeUseCaseSystem         ElementType = "UseCaseSystem"
	TypeUseCaseAssociation    ElementType = "UseCaseAssociation"
	TypeUseCaseGeneralization ElementType = "UseCaseGeneralization"
	TypeUseCaseInclude        ElementType = "UseCaseInclude"
	TypeUseCaseExtend         ElementType = "UseCaseExtend"
)

// Communication diagram element types.
const (
	TypeObjectName      ElementType = "ObjectName"
	TypeObjectAttribute ElementType = "ObjectAttribute"
	TypeObjectMethod    ElementType = "ObjectMethod"
	TypeCommunication   ElementType = "CommunicationLink"
)

// Component and deployment diagram element types.
const (
	TypeComponent                  ElementType = "Component"
	TypeComponentInterface         ElementType = "ComponentInterface"
	TypeComponentDependency        ElementType = "ComponentDependency"
	TypeComponentProvided          ElementType = "ComponentInterfaceProvided"
	TypeComponentRequired          ElementType = "ComponentInterfaceRequired"
	TypeDeploymentNode             ElementType = "DeploymentNode"
	TypeDeploymentComponent        ElementType = "DeploymentComponent"
	TypeDeploymentArtifact         ElementType = "DeploymentArtifact"
	TypeDeploymentInterface        ElementType = "DeploymentInterface"
	TypeDeploymentAssociation      ElementType = "DeploymentAssociation"
	TypeDeploymentDependency       ElementType = "DeploymentDependency"
	TypeDeploymentInterfaceProvide ElementType = "DeploymentInterfaceProvided"
	TypeDeploymentInterfaceRequire ElementType = "DeploymentInterfaceRequired"
)

// Element is the capability shared by every variant of a parsed diagram element.
type Element interface {
	ID() string
	Type() ElementType
	Name() string
	// Owner returns the local id of the parent element, or "" when the element is parentless.
	Owner() string
	SubmissionID() uint
}

type base struct {
	id           string
	typ          ElementType
	name         string
	owner        string
	submissionID uint
}

func (b base) ID() string         { return b.id }
func (b base) Type() ElementType  { return b.typ }
func (b base) Name() string       { return b.name }
func (b base) Owner() string      { return b.owner }
func (b base) SubmissionID() uint { return b.submissionID }

// Class is a class-like element (class, abstract class, interface, enumeration, communication object).
type Class struct {
	base
	Attributes []*Attribute
	Methods    []*Method
}

// Package groups classes in a class diagram.
type Package struct {
	base
}

// Attribute is a class or object attribute parsed from a "name: type" label.
type Attribute struct {
	base
	AttributeName string
	AttributeType string
}

// Method is a class or object method parsed from a "name(params): returnType" label.
type Method struct {
	base
	MethodName string
	Parameters []string
	ReturnType string
}

// Node is any other named element: activity nodes, use cases, actors, systems, components, deployment nodes.
type Node struct {
	base
	Stereotype string
}

// Endpoint is one side of a relationship.
type Endpoint struct {
	ElementID    string
	ElementName  string
	ElementType  ElementType
	Multiplicity string
	Role         string
	Direction    string
}

// Message is a labelled message on a communication link, parsed from "seq: name(params): Ret".
type Message struct {
	Sequence   string
	Name       string
	Parameters []string
	ReturnType string
	Direction  string
}

// Relationship connects two elements of the same diagram.
type Relationship struct {
	base
	Source   Endpoint
	Target   Endpoint
	Messages []Message
}

// IsRelationship reports whether the element is a relationship variant.
func IsRelationship(element Element) bool {
	_, ok := element.(*Relationship)
	return ok
}
