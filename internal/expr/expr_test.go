package expr

import (
	"testing"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/types"
)

func testRelation() *catalog.Relation {
	relation := catalog.NewRelation("r")
	relation.AddAttribute("a", types.Int())
	relation.AddAttribute("b", types.Int())
	return relation
}

func TestAttributeLiteralComparisonShapes(t *testing.T) {
	relation := testRelation()
	attrA := relation.Attribute(0)

	tests := []struct {
		name     string
		pred     *Predicate
		wantOK   bool
		wantOp   ComparisonOp
		wantAttr catalog.AttributeID
	}{
		{
			name:     "attr op literal",
			pred:     NewComparison(Less, NewAttribute(attrA), NewLiteral(types.NewInt(5))),
			wantOK:   true,
			wantOp:   Less,
			wantAttr: 0,
		},
		{
			name:     "literal op attr flips the operator",
			pred:     NewComparison(Less, NewLiteral(types.NewInt(5)), NewAttribute(attrA)),
			wantOK:   true,
			wantOp:   Greater,
			wantAttr: 0,
		},
		{
			name:   "attr op attr does not match",
			pred:   NewComparison(Equal, NewAttribute(attrA), NewAttribute(relation.Attribute(1))),
			wantOK: false,
		},
		{
			name:   "literal op literal does not match",
			pred:   NewComparison(Equal, NewLiteral(types.NewInt(1)), NewLiteral(types.NewInt(2))),
			wantOK: false,
		},
		{
			name:   "trivial true does not match",
			pred:   True(),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, op, _, ok := tt.pred.AttributeLiteralComparison()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if op != tt.wantOp {
				t.Errorf("op = %v, want %v", op, tt.wantOp)
			}
			if attr.ID() != tt.wantAttr {
				t.Errorf("attr = %d, want %d", attr.ID(), tt.wantAttr)
			}
		})
	}
}

func TestPredicateMatches(t *testing.T) {
	relation := testRelation()
	get := func(id catalog.AttributeID) types.Value {
		if id == 0 {
			return types.NewInt(10)
		}
		return types.NewInt(20)
	}

	tests := []struct {
		name string
		pred *Predicate
		want bool
	}{
		{"nil matches everything", nil, true},
		{"trivial true", True(), true},
		{"trivial false", False(), false},
		{"a = 10", NewComparison(Equal, NewAttribute(relation.Attribute(0)), NewLiteral(types.NewInt(10))), true},
		{"a > b", NewComparison(Greater, NewAttribute(relation.Attribute(0)), NewAttribute(relation.Attribute(1))), false},
		{"b >= a", NewComparison(GreaterOrEqual, NewAttribute(relation.Attribute(1)), NewAttribute(relation.Attribute(0))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.Matches(get); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComparisonOpApply(t *testing.T) {
	five, six := types.NewInt(5), types.NewInt(6)
	tests := []struct {
		op    ComparisonOp
		left  types.Value
		right types.Value
		want  bool
	}{
		{Equal, five, five, true},
		{Equal, five, six, false},
		{NotEqual, five, six, true},
		{Less, five, six, true},
		{LessOrEqual, five, five, true},
		{Greater, six, five, true},
		{GreaterOrEqual, five, six, false},
	}
	for _, tt := range tests {
		if got := tt.op.Apply(tt.left, tt.right); got != tt.want {
			t.Errorf("%s.Apply(%s, %s) = %v, want %v", tt.op, tt.left, tt.right, got, tt.want)
		}
	}
}
