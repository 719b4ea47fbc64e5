package diagram

type variant int

const (
	variantNode variant = iota
	variantClass
	variantPackage
	variantAttribute
	variantMethod
)

// kindRules describes how one diagram kind is built: which element types it knows,
// which relationship types it accepts and which elements a relationship may attach to.
type kindRules struct {
	elements        map[ElementType]variant
	relationships   map[ElementType]struct{}
	endpoints       map[ElementType]struct{}
	packageCarveOut bool
}

func typeSet(types ...ElementType) map[ElementType]struct{} {
	set := make(map[ElementType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func nodes(types ...ElementType) map[ElementType]variant {
	out := make(map[ElementType]variant, len(types))
	for _, t := range types {
		out[t] = variantNode
	}
	return out
}

var kindRuleSet = map[Kind]kindRules{
	KindClass: {
		elements: map[ElementType]variant{
			TypePackage:       variantPackage,
			TypeClass:         variantClass,
			TypeAbstractClass: variantClass,
			TypeInterface:     variantClass,
			TypeEnumeration:   variantClass,
			TypeAttribute:     variantAttribute,
			TypeMethod:        variantMethod,
		},
		relationships: typeSet(
			TypeClassBidirectional, TypeClassUnidirectional, TypeClassInheritance, TypeClassRealization,
			TypeClassDependency, TypeClassAggregation, TypeClassComposition,
		),
		endpoints:       typeSet(TypeClass, TypeAbstractClass, TypeInterface, TypeEnumeration),
		packageCarveOut: true,
	},
	KindActivity: {
		elements: nodes(
			TypeActivity, TypeActivityAction, TypeActivityFinal, TypeActivityFork, TypeActivityForkH,
			TypeActivityInitial, TypeActivityMerge, TypeActivityObject,
		),
		relationships: typeSet(TypeActivityControlFlow),
		endpoints: typeSet(
			TypeActivity, TypeActivityAction, TypeActivityFinal, TypeActivityFork, TypeActivityForkH,
			TypeActivityInitial, TypeActivityMerge, TypeActivityObject,
		),
	},
	KindUseCase: {
		elements:      nodes(TypeUseCase, TypeUseCaseActor, TypeUseCaseSystem),
		relationships: typeSet(TypeUseCaseAssociation, TypeUseCaseGeneralization, TypeUseCaseInclude, TypeUseCaseExtend),
		endpoints:     typeSet(TypeUseCase, TypeUseCaseActor, TypeUseCaseSystem),
	},
	KindCommunication: {
		elements: map[ElementType]variant{
			TypeObjectName:      variantClass,
			TypeObjectAttribute: variantAttribute,
			TypeObjectMethod:    variantMethod,
		},
		relationships: typeSet(TypeCommunication),
		endpoints:     typeSet(TypeObjectName),
	},
	KindComponent: {
		elements:      nodes(TypeComponent, TypeComponentInterface),
		relationships: typeSet(TypeComponentDependency, TypeComponentProvided, TypeComponentRequired),
		endpoints:     typeSet(TypeComponent, TypeComponentInterface),
	},
	KindDeployment: {
		elements: nodes(TypeDeploymentNode, TypeDeploymentComponent, TypeDeploymentArtifact, TypeDeploymentInterface),
		relationships: typeSet(
			TypeDeploymentAssociation, TypeDeploymentDependency, TypeDeploymentInterfaceProvide, TypeDeploymentInterfaceRequire,
		),
		endpoints: typeSet(TypeDeploymentNode, TypeDeploymentComponent, TypeDeploymentArtifact, TypeDeploymentInterface),
	},
}

// SupportedKinds lists the diagram kinds the parser can build.
func SupportedKinds() []Kind {
	return []Kind{KindClass, KindActivity, KindUseCase, KindCommunication, KindComponent, KindDeployment}
}
