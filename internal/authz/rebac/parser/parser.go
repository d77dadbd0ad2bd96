// Package parser parses and validates a JSON relation-algebra expression
// into a model.Expression tree. The parser is pure, total, and does no
// I/O — every failure is a returned error, never a panic.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/authrim-io/authrim/internal/authz/model"
)

// DefaultMaxDepth bounds nesting when a caller does not supply its own.
const DefaultMaxDepth = 16

var (
	ErrMissingDiscriminant = errors.New("relation expression: missing discriminant")
	ErrUnknownDiscriminant = errors.New("relation expression: unknown discriminant")
	ErrWrongArity          = errors.New("relation expression: wrong child arity")
	ErrFieldType           = errors.New("relation expression: field type mismatch")
	ErrMaxDepth            = errors.New("relation expression: nesting depth exceeded")
)

// wireNode mirrors the JSON shape described in spec §4.2/§6:
// {"type": "...", "children": [...], "base": {...}, "subtract": {...},
//  "tupleset_relation": "...", "computed_userset_relation": "..."}.
type wireNode struct {
	Type                    string            `json:"type"`
	Children                []json.RawMessage `json:"children"`
	Base                    json.RawMessage   `json:"base"`
	Subtract                json.RawMessage   `json:"subtract"`
	TuplesetRelation        string            `json:"tupleset_relation"`
	ComputedUsersetRelation string            `json:"computed_userset_relation"`
}

// Parse parses raw JSON — either a bare string ("direct"/"this") or a
// full object — into an Expression tree, enforcing maxDepth. A maxDepth
// of 0 uses DefaultMaxDepth.
func Parse(raw json.RawMessage, maxDepth int) (*model.Expression, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return parseAt(raw, 0, maxDepth)
}

func parseAt(raw json.RawMessage, depth, maxDepth int) (*model.Expression, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: limit %d", ErrMaxDepth, maxDepth)
	}

	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w", ErrMissingDiscriminant)
	}

	// Bare string form: "direct" or "this".
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFieldType, err)
		}
		return parseKind(s, nil)
	}

	var node wireNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFieldType, err)
	}
	if node.Type == "" {
		return nil, fmt.Errorf("%w", ErrMissingDiscriminant)
	}

	switch model.ExpressionKind(node.Type) {
	case model.KindDirect, model.KindThis:
		return &model.Expression{Kind: model.ExpressionKind(node.Type)}, nil

	case model.KindUnion, model.KindIntersection:
		if len(node.Children) < 2 {
			return nil, fmt.Errorf("%w: %s requires at least 2 children", ErrWrongArity, node.Type)
		}
		children := make([]*model.Expression, 0, len(node.Children))
		for _, raw := range node.Children {
			child, err := parseAt(raw, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &model.Expression{Kind: model.ExpressionKind(node.Type), Children: children}, nil

	case model.KindExclusion:
		if len(node.Base) == 0 || len(node.Subtract) == 0 {
			return nil, fmt.Errorf("%w: exclusion requires exactly base and subtract", ErrWrongArity)
		}
		base, err := parseAt(node.Base, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		subtract, err := parseAt(node.Subtract, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		return &model.Expression{Kind: model.KindExclusion, Base: base, Subtract: subtract}, nil

	case model.KindTupleToUserset:
		if node.TuplesetRelation == "" || node.ComputedUsersetRelation == "" {
			return nil, fmt.Errorf("%w: tuple_to_userset requires tupleset_relation and computed_userset_relation", ErrFieldType)
		}
		return &model.Expression{
			Kind:             model.KindTupleToUserset,
			TuplesetRelation: node.TuplesetRelation,
			ComputedUserset:  node.ComputedUsersetRelation,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscriminant, node.Type)
	}
}

func parseKind(s string, _ any) (*model.Expression, error) {
	switch model.ExpressionKind(s) {
	case model.KindDirect, model.KindThis:
		return &model.Expression{Kind: model.ExpressionKind(s)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscriminant, s)
	}
}

func trimSpace(raw json.RawMessage) json.RawMessage {
	i, j := 0, len(raw)
	for i < j && isSpace(raw[i]) {
		i++
	}
	for j > i && isSpace(raw[j-1]) {
		j--
	}
	return raw[i:j]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Serialize is the inverse of Parse, producing the same wire shape.
func Serialize(e *model.Expression) (json.RawMessage, error) {
	if e == nil {
		return nil, fmt.Errorf("%w", ErrMissingDiscriminant)
	}

	switch e.Kind {
	case model.KindDirect, model.KindThis:
		return json.Marshal(string(e.Kind))

	case model.KindUnion, model.KindIntersection:
		children := make([]json.RawMessage, 0, len(e.Children))
		for _, c := range e.Children {
			raw, err := Serialize(c)
			if err != nil {
				return nil, err
			}
			children = append(children, raw)
		}
		return json.Marshal(wireNode{Type: string(e.Kind), Children: children})

	case model.KindExclusion:
		base, err := Serialize(e.Base)
		if err != nil {
			return nil, err
		}
		subtract, err := Serialize(e.Subtract)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Type: string(e.Kind), Base: base, Subtract: subtract})

	case model.KindTupleToUserset:
		return json.Marshal(wireNode{
			Type:                    string(e.Kind),
			TuplesetRelation:        e.TuplesetRelation,
			ComputedUsersetRelation: e.ComputedUserset,
		})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscriminant, e.Kind)
	}
}
