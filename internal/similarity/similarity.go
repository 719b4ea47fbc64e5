// Package similarity provides the default element similarity used when no external
// scorer is configured. All scores are in [0,1]; elements of different types score 0.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/noah-isme/gema-compass/internal/diagram"
)

const (
	classNameWeight      = 0.6
	attributeNameWeight  = 0.7
	methodNameWeight     = 0.6
	relationshipEndpoint = 0.8
)

// Default scores two elements of the same type.
func Default(a, b diagram.Element) float64 {
	if a == nil || b == nil || a.Type() != b.Type() {
		return 0
	}

	switch left := a.(type) {
	case *diagram.Class:
		right, ok := b.(*diagram.Class)
		if !ok {
			return 0
		}
		return classSimilarity(left, right)
	case *diagram.Attribute:
		right, ok := b.(*diagram.Attribute)
		if !ok {
			return 0
		}
		return attributeNameWeight*Names(left.AttributeName, right.AttributeName) +
			(1-attributeNameWeight)*Names(left.AttributeType, right.AttributeType)
	case *diagram.Method:
		right, ok := b.(*diagram.Method)
		if !ok {
			return 0
		}
		return methodSimilarity(left, right)
	case *diagram.Relationship:
		right, ok := b.(*diagram.Relationship)
		if !ok {
			return 0
		}
		return relationshipSimilarity(left, right)
	default:
		return Names(a.Name(), b.Name())
	}
}

func classSimilarity(a, b *diagram.Class) float64 {
	members := func(c *diagram.Class) []string {
		names := make([]string, 0, len(c.Attributes)+len(c.Methods))
		for _, attr := range c.Attributes {
			names = append(names, attr.AttributeName)
		}
		for _, method := range c.Methods {
			names = append(names, method.MethodName)
		}
		return names
	}

	return classNameWeight*Names(a.Name(), b.Name()) + (1-classNameWeight)*overlap(members(a), members(b))
}

func methodSimilarity(a, b *diagram.Method) float64 {
	rest := (1 - methodNameWeight) / 2
	return methodNameWeight*Names(a.MethodName, b.MethodName) +
		rest*Names(a.ReturnType, b.ReturnType) +
		rest*overlap(a.Parameters, b.Parameters)
}

func relationshipSimilarity(a, b *diagram.Relationship) float64 {
	endpoints := func(x, y diagram.Endpoint) float64 {
		if x.ElementType != y.ElementType {
			return 0
		}
		return Names(x.ElementName, y.ElementName)
	}

	forward := (endpoints(a.Source, b.Source) + endpoints(a.Target, b.Target)) / 2
	score := relationshipEndpoint * forward

	rest := (1 - relationshipEndpoint) / 2
	if equalFold(a.Source.Multiplicity, b.Source.Multiplicity) && equalFold(a.Target.Multiplicity, b.Target.Multiplicity) {
		score += rest
	}
	if equalFold(a.Source.Role, b.Source.Role) && equalFold(a.Target.Role, b.Target.Role) {
		score += rest
	}
	return score
}

// overlap averages, for every entry of the longer list, the best name match in the other list.
func overlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) < len(b) {
		a, b = b, a
	}

	total := 0.0
	for _, left := range a {
		best := 0.0
		for _, right := range b {
			if s := Names(left, right); s > best {
				best = s
			}
		}
		total += best
	}
	return total / float64(len(a))
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// Names compares two labels with a normalised Levenshtein distance, ignoring case and whitespace.
func Names(a, b string) float64 {
	left, right := normalize(a), normalize(b)
	if left == right {
		return 1
	}

	longest := utf8.RuneCountInString(left)
	if n := utf8.RuneCountInString(right); n > longest {
		longest = n
	}
	return 1 - float64(levenshtein([]rune(left), []rune(right)))/float64(longest)
}

func levenshtein(a, b []rune) int {
	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := range previous {
		previous[j] = j
	}

	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[j] = min(previous[j]+1, current[j-1]+1, previous[j-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(b)]
}
