// Package expr models the narrow expression shapes the storage engine
// recognises: scalar attribute references, scalar literals, comparisons of
// two scalars, and the trivial always-true / always-false predicates. Both
// scalars and predicates are flat tagged variants so that evaluators can
// match on shape directly.
package expr

import (
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/types"
)

// ComparisonOp is one of the six comparison operators.
type ComparisonOp int

const (
	// Equal is the = operator.
	Equal ComparisonOp = iota
	// NotEqual is the <> operator.
	NotEqual
	// Less is the < operator.
	Less
	// LessOrEqual is the <= operator.
	LessOrEqual
	// Greater is the > operator.
	Greater
	// GreaterOrEqual is the >= operator.
	GreaterOrEqual
)

// String renders the operator.
func (op ComparisonOp) String() string {
	switch op {
	case Equal:
		return "="
	case NotEqual:
		return "<>"
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	default:
		return fmt.Sprintf("ComparisonOp(%d)", int(op))
	}
}

// Flipped returns the operator with its operands swapped, so that
// "literal op attr" can be normalised to "attr Flipped(op) literal".
func (op ComparisonOp) Flipped() ComparisonOp {
	switch op {
	case Less:
		return Greater
	case LessOrEqual:
		return GreaterOrEqual
	case Greater:
		return Less
	case GreaterOrEqual:
		return LessOrEqual
	default:
		return op
	}
}

// Apply evaluates "left op right" using the type system's comparison.
func (op ComparisonOp) Apply(left, right types.Value) bool {
	c := left.Compare(right)
	switch op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case Less:
		return c < 0
	case LessOrEqual:
		return c <= 0
	case Greater:
		return c > 0
	case GreaterOrEqual:
		return c >= 0
	default:
		panic(fmt.Sprintf("expr: unknown ComparisonOp %d", int(op)))
	}
}

// ScalarKind tags the scalar variants.
type ScalarKind int

const (
	// ScalarLiteral is a static typed value.
	ScalarLiteral ScalarKind = iota
	// ScalarAttribute references an attribute of the scanned relation.
	ScalarAttribute
)

// Scalar is a leaf expression: either a literal or an attribute reference.
type Scalar struct {
	kind    ScalarKind
	literal types.Value
	attr    *catalog.Attribute
}

// NewLiteral builds a literal scalar.
func NewLiteral(v types.Value) *Scalar {
	return &Scalar{kind: ScalarLiteral, literal: v}
}

// NewAttribute builds an attribute-reference scalar.
func NewAttribute(attr *catalog.Attribute) *Scalar {
	return &Scalar{kind: ScalarAttribute, attr: attr}
}

// Kind returns the scalar's variant tag.
func (s *Scalar) Kind() ScalarKind { return s.kind }

// HasStaticValue reports whether the scalar is a literal.
func (s *Scalar) HasStaticValue() bool { return s.kind == ScalarLiteral }

// StaticValue returns the literal value. Panics on attribute scalars.
func (s *Scalar) StaticValue() types.Value {
	if s.kind != ScalarLiteral {
		panic("expr: StaticValue() on non-literal scalar")
	}
	return s.literal
}

// Attribute returns the referenced attribute. Panics on literal scalars.
func (s *Scalar) Attribute() *catalog.Attribute {
	if s.kind != ScalarAttribute {
		panic("expr: Attribute() on non-attribute scalar")
	}
	return s.attr
}

// Evaluate resolves the scalar for one tuple, pulling attribute values
// through get.
func (s *Scalar) Evaluate(get func(catalog.AttributeID) types.Value) types.Value {
	if s.kind == ScalarLiteral {
		return s.literal
	}
	return get(s.attr.ID())
}

// PredicateKind tags the predicate variants.
type PredicateKind int

const (
	// PredicateTrue matches every tuple.
	PredicateTrue PredicateKind = iota
	// PredicateFalse matches no tuple.
	PredicateFalse
	// PredicateComparison compares two scalars.
	PredicateComparison
)

// Predicate is the flat predicate variant. A nil *Predicate passed to a
// matcher means "all tuples", mirroring the tuple-store contract.
type Predicate struct {
	kind  PredicateKind
	op    ComparisonOp
	left  *Scalar
	right *Scalar
}

// True returns the always-true predicate.
func True() *Predicate { return &Predicate{kind: PredicateTrue} }

// False returns the always-false predicate.
func False() *Predicate { return &Predicate{kind: PredicateFalse} }

// NewComparison builds a comparison predicate.
func NewComparison(op ComparisonOp, left, right *Scalar) *Predicate {
	return &Predicate{kind: PredicateComparison, op: op, left: left, right: right}
}

// Kind returns the predicate's variant tag.
func (p *Predicate) Kind() PredicateKind { return p.kind }

// Comparison returns the operator and operands of a comparison predicate.
func (p *Predicate) Comparison() (ComparisonOp, *Scalar, *Scalar) {
	if p.kind != PredicateComparison {
		panic("expr: Comparison() on non-comparison predicate")
	}
	return p.op, p.left, p.right
}

// AttributeLiteralComparison matches the shape "attr op literal" or
// "literal op attr", returning it normalised with the attribute on the left.
// ok is false for any other shape.
func (p *Predicate) AttributeLiteralComparison() (attr *catalog.Attribute, op ComparisonOp, literal types.Value, ok bool) {
	if p == nil || p.kind != PredicateComparison {
		return nil, 0, types.Value{}, false
	}
	switch {
	case p.left.Kind() == ScalarAttribute && p.right.Kind() == ScalarLiteral:
		return p.left.Attribute(), p.op, p.right.StaticValue(), true
	case p.left.Kind() == ScalarLiteral && p.right.Kind() == ScalarAttribute:
		return p.right.Attribute(), p.op.Flipped(), p.left.StaticValue(), true
	default:
		return nil, 0, types.Value{}, false
	}
}

// Matches evaluates the predicate for one tuple, pulling attribute values
// through get. A nil predicate matches everything.
func (p *Predicate) Matches(get func(catalog.AttributeID) types.Value) bool {
	if p == nil {
		return true
	}
	switch p.kind {
	case PredicateTrue:
		return true
	case PredicateFalse:
		return false
	case PredicateComparison:
		return p.op.Apply(p.left.Evaluate(get), p.right.Evaluate(get))
	default:
		panic(fmt.Sprintf("expr: unknown PredicateKind %d", int(p.kind)))
	}
}

// String renders the predicate for diagnostics.
func (p *Predicate) String() string {
	if p == nil {
		return "<all>"
	}
	switch p.kind {
	case PredicateTrue:
		return "TRUE"
	case PredicateFalse:
		return "FALSE"
	case PredicateComparison:
		return fmt.Sprintf("%s %s %s", p.left, p.op, p.right)
	default:
		return "<unknown>"
	}
}

// String renders the scalar for diagnostics.
func (s *Scalar) String() string {
	if s.kind == ScalarLiteral {
		return s.literal.String()
	}
	return s.attr.Name()
}
