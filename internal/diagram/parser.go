package diagram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidDiagram indicates the document is not a well-formed diagram.
var ErrInvalidDiagram = errors.New("invalid diagram")

// ErrUnsupportedDiagramType indicates the diagram kind has no builder.
var ErrUnsupportedDiagramType = errors.New("unsupported diagram type")

// ErrDanglingRelationshipEndpoint indicates a relationship points at an element missing from the diagram.
var ErrDanglingRelationshipEndpoint = errors.New("dangling relationship endpoint")

// ParseError carries the submission a parse failure belongs to.
type ParseError struct {
	SubmissionID uint
	Detail       string
	Err          error
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parse submission %d: %v", e.SubmissionID, e.Err)
	}
	return fmt.Sprintf("parse submission %d: %v: %s", e.SubmissionID, e.Err, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

const schemaSource = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "diagramType": {"type": "string"},
    "elements": {
      "type": ["array", "object"],
      "items": {"$ref": "#/definitions/element"},
      "additionalProperties": {"$ref": "#/definitions/element"}
    },
    "relationships": {
      "type": ["array", "object"],
      "items": {"$ref": "#/definitions/relationship"},
      "additionalProperties": {"$ref": "#/definitions/relationship"}
    }
  },
  "anyOf": [{"required": ["type"]}, {"required": ["diagramType"]}],
  "definitions": {
    "element": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "name": {"type": "string"},
        "owner": {"type": ["string", "null"]}
      }
    },
    "relationship": {
      "type": "object",
      "required": ["id", "type", "source", "target"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "source": {"$ref": "#/definitions/endpoint"},
        "target": {"$ref": "#/definitions/endpoint"}
      }
    },
    "endpoint": {
      "type": "object",
      "required": ["element"],
      "properties": {"element": {"type": "string"}}
    }
  }
}`

type rawDiagram struct {
	Type          string          `json:"type"`
	DiagramType   string          `json:"diagramType"`
	Elements      json.RawMessage `json:"elements"`
	Relationships json.RawMessage `json:"relationships"`
}

type rawElement struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Owner      *string `json:"owner"`
	Stereotype string  `json:"stereotype"`
}

type rawEndpoint struct {
	Element      string `json:"element"`
	Direction    string `json:"direction"`
	Multiplicity string `json:"multiplicity"`
	Role         string `json:"role"`
}

type rawMessage struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
}

type rawRelationship struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Source   rawEndpoint  `json:"source"`
	Target   rawEndpoint  `json:"target"`
	Messages []rawMessage `json:"messages"`
}

// Parser turns modeling editor JSON into immutable diagrams.
type Parser struct {
	schema *jsonschema.Schema
}

// NewParser compiles the document schema used to pre-validate models.
func NewParser() (*Parser, error) {
	schema, err := jsonschema.CompileString("diagram.schema.json", schemaSource)
	if err != nil {
		return nil, fmt.Errorf("compile diagram schema: %w", err)
	}
	return &Parser{schema: schema}, nil
}

var (
	defaultParserOnce sync.Once
	defaultParser     *Parser
)

// Parse parses raw with a process-wide parser.
func Parse(raw []byte, submissionID uint) (*Diagram, error) {
	defaultParserOnce.Do(func() {
		parser, err := NewParser()
		if err != nil {
			panic(err)
		}
		defaultParser = parser
	})
	return defaultParser.Parse(raw, submissionID)
}

// Parse validates and builds the diagram of one submission.
func (p *Parser) Parse(raw []byte, submissionID uint) (*Diagram, error) {
	fail := func(err error, detail string) (*Diagram, error) {
		return nil, &ParseError{SubmissionID: submissionID, Err: err, Detail: detail}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return fail(ErrInvalidDiagram, err.Error())
	}
	if err := p.schema.Validate(document); err != nil {
		return fail(ErrInvalidDiagram, err.Error())
	}

	var doc rawDiagram
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fail(ErrInvalidDiagram, err.Error())
	}

	kind := Kind(strings.TrimSpace(doc.Type))
	if kind == "" {
		kind = Kind(strings.TrimSpace(doc.DiagramType))
	}
	rules, ok := kindRuleSet[kind]
	if !ok {
		return fail(ErrUnsupportedDiagramType, string(kind))
	}

	elements, err := decodeOrdered[rawElement](doc.Elements)
	if err != nil {
		return fail(ErrInvalidDiagram, err.Error())
	}
	relationships, err := decodeOrdered[rawRelationship](doc.Relationships)
	if err != nil {
		return fail(ErrInvalidDiagram, err.Error())
	}

	b := newBuilder(submissionID, kind, rules)
	b.createElements(elements)
	b.resolveOwners()
	if err := b.createRelationships(relationships); err != nil {
		return fail(ErrDanglingRelationshipEndpoint, err.Error())
	}

	return b.diagram(), nil
}

// decodeOrdered accepts either a JSON array or an object keyed by id and keeps document order.
func decodeOrdered[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if _, err := decoder.Token(); err != nil {
		return nil, err
	}
	var out []T
	for decoder.More() {
		if _, err := decoder.Token(); err != nil {
			return nil, err
		}
		var item T
		if err := decoder.Decode(&item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
