package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wireNode is the request-level query shape: either a leaf
// {field, operator, value} or a compound {operator, queries}.
type wireNode struct {
	Field    string     `json:"field,omitempty"`
	Operator string     `json:"operator"`
	Value    string     `json:"value,omitempty"`
	Queries  []wireNode `json:"queries,omitempty"`
}

// Parse decodes a request-level query. The allowed map translates wire
// field names into the entity's closed Field set; anything outside it is
// rejected before the tree ever reaches the renderer.
func Parse(data []byte, allowed map[string]Field) (Query, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var node wireNode
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&node); err != nil {
		return nil, &ValidationError{Path: "query", Reason: "malformed query document"}
	}
	return node.toQuery("query", allowed)
}

func (n wireNode) toQuery(path string, allowed map[string]Field) (Query, error) {
	switch strings.ToUpper(strings.TrimSpace(n.Operator)) {
	case "AND", "OR":
		if len(n.Queries) == 0 {
			return nil, &ValidationError{Path: path, Reason: "compound query has no sub-queries"}
		}
		op := And
		if strings.EqualFold(n.Operator, "OR") {
			op = Or
		}
		children := make([]Query, 0, len(n.Queries))
		for i, child := range n.Queries {
			q, err := child.toQuery(fmt.Sprintf("%s.queries[%d]", path, i), allowed)
			if err != nil {
				return nil, err
			}
			children = append(children, q)
		}
		return Compound{Op: op, Queries: children}, nil
	case "EQUALS", "NOT_EQUALS":
		field, ok := allowed[n.Field]
		if !ok {
			return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("unknown field %q", n.Field)}
		}
		op := Equals
		if strings.EqualFold(n.Operator, "NOT_EQUALS") {
			op = NotEquals
		}
		return Logical{Field: field, Op: op, Value: n.Value}, nil
	default:
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("unknown operator %q", n.Operator)}
	}
}
