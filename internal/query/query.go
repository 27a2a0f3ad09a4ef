// Package query renders compound predicate trees into parameterized SQL
// filter clauses. Field names always come from a closed, compile-time set
// declared by the entity packages; only values travel as bind parameters.
package query

import (
	"fmt"
	"strings"
)

// Field names a filterable column of some entity. Entity packages declare
// their fields as constants; callers never build one from request input.
type Field string

// Op is a leaf comparison operator.
type Op int

const (
	Equals Op = iota
	NotEquals
)

func (op Op) String() string {
	switch op {
	case Equals:
		return "="
	case NotEquals:
		return "!="
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// CompoundOp joins the children of a Compound node.
type CompoundOp int

const (
	And CompoundOp = iota
	Or
)

func (op CompoundOp) String() string {
	switch op {
	case And:
		return " AND "
	case Or:
		return " OR "
	default:
		return fmt.Sprintf(" op(%d) ", int(op))
	}
}

// Query is a node of a predicate tree. Implementations write their clause
// fragment and append their bind values in the same left-to-right order,
// which is what keeps the Nth placeholder paired with the Nth bind value.
type Query interface {
	WriteClause(sb *strings.Builder)
	AppendBinds(binds []any) []any
	Validate(path string) error
}

// Logical is a leaf comparison of one field against one bound value.
type Logical struct {
	Field Field
	Op    Op
	Value any
}

func (l Logical) WriteClause(sb *strings.Builder) {
	sb.WriteString(string(l.Field))
	sb.WriteByte(' ')
	sb.WriteString(l.Op.String())
	sb.WriteString(" ?")
}

func (l Logical) AppendBinds(binds []any) []any {
	return append(binds, l.Value)
}

func (l Logical) Validate(path string) error {
	if l.Field == "" {
		return &ValidationError{Path: path, Reason: "field is required"}
	}
	if l.Op != Equals && l.Op != NotEquals {
		return &ValidationError{Path: path, Reason: "unknown operator"}
	}
	return nil
}

// Compound joins an ordered list of sub-queries with AND or OR. Every
// child is parenthesized so nesting never depends on operator precedence.
type Compound struct {
	Op      CompoundOp
	Queries []Query
}

func (c Compound) WriteClause(sb *strings.Builder) {
	for i, q := range c.Queries {
		if i > 0 {
			sb.WriteString(c.Op.String())
		}
		sb.WriteByte('(')
		q.WriteClause(sb)
		sb.WriteByte(')')
	}
}

func (c Compound) AppendBinds(binds []any) []any {
	for _, q := range c.Queries {
		binds = q.AppendBinds(binds)
	}
	return binds
}

func (c Compound) Validate(path string) error {
	if len(c.Queries) == 0 {
		return &ValidationError{Path: path, Reason: "compound query has no sub-queries"}
	}
	if c.Op != And && c.Op != Or {
		return &ValidationError{Path: path, Reason: "unknown compound operator"}
	}
	for i, q := range c.Queries {
		if err := q.Validate(fmt.Sprintf("%s.queries[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// ValidationError reports a malformed query tree. It is caller-caused and
// safe to disclose, so it carries the path of the offending node.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query at %s: %s", e.Path, e.Reason)
}

// Render validates the tree and produces the filter clause along with the
// bind values, in placeholder order. A nil query renders as match-all
// (empty clause, no binds).
func Render(q Query) (string, []any, error) {
	if q == nil {
		return "", nil, nil
	}
	if err := q.Validate("query"); err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	q.WriteClause(&sb)
	return sb.String(), q.AppendBinds(nil), nil
}

// Rebind rewrites ? placeholders into Postgres $1..$n form. Question marks
// only ever come from the renderer, never from bound values, so a plain
// scan is sufficient.
func Rebind(clause string) string {
	if !strings.ContainsRune(clause, '?') {
		return clause
	}
	var sb strings.Builder
	sb.Grow(len(clause) + 8)
	n := 0
	for _, r := range clause {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
