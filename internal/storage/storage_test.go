package storage

import (
	"fmt"
	"math/rand"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// Shared helpers for the storage tests: small synthetic relations and
// predicate shorthands.

func intRelation(columns int) *catalog.Relation {
	relation := catalog.NewRelation("ints")
	for i := 0; i < columns; i++ {
		relation.AddAttribute(fmt.Sprintf("intcol%d", i), types.Int())
	}
	return relation
}

func charRelation(columns, width int) *catalog.Relation {
	relation := catalog.NewRelation("chars")
	for i := 0; i < columns; i++ {
		relation.AddAttribute(fmt.Sprintf("stringcol%d", i), types.Char(width))
	}
	return relation
}

func intTuple(values ...int32) *types.Tuple {
	tuple := types.NewTuple()
	for _, v := range values {
		tuple.Append(types.NewInt(v))
	}
	return tuple
}

// randomIntTuple fills every column with a value in [0, domain).
func randomIntTuple(rng *rand.Rand, columns int, domain int32) *types.Tuple {
	tuple := types.NewTuple()
	for i := 0; i < columns; i++ {
		tuple.Append(types.NewInt(rng.Int31n(domain)))
	}
	return tuple
}

func comparisonPredicate(relation *catalog.Relation, attr catalog.AttributeID, op expr.ComparisonOp, literal types.Value) *expr.Predicate {
	return expr.NewComparison(op, expr.NewAttribute(relation.Attribute(attr)), expr.NewLiteral(literal))
}

// idSet converts a sequence to a set for order-insensitive comparison.
func idSet(seq *TupleIDSequence) map[TupleID]bool {
	set := make(map[TupleID]bool, seq.Size())
	for _, tid := range seq.IDs() {
		set[tid] = true
	}
	return set
}
