package storage

import (
	"sort"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// sortColumnBounds returns the half-open tuple range [lo, hi) of sort-column
// values equal to literal, via two binary searches over the sorted column.
// valueAt must be monotonically non-decreasing in its argument.
func sortColumnBounds(numTuples int, literal types.Value, valueAt func(int) types.Value) (int, int) {
	lo := sort.Search(numTuples, func(i int) bool {
		return valueAt(i).Compare(literal) >= 0
	})
	hi := sort.Search(numTuples, func(i int) bool {
		return valueAt(i).Compare(literal) > 0
	})
	return lo, hi
}

// evaluateSortColumnPredicate answers "sortAttr op literal" predicates over
// an uncompressed sorted column with binary searches, emitting the in-range
// or out-of-range id band per operator. It returns ok=false when the
// predicate does not have that shape or names a different attribute, in
// which case the caller falls back to a linear scan.
func evaluateSortColumnPredicate(
	predicate *expr.Predicate,
	sortAttr catalog.AttributeID,
	numTuples int,
	valueAt func(int) types.Value,
) (*TupleIDSequence, bool) {
	attr, op, literal, ok := predicate.AttributeLiteralComparison()
	if !ok || attr.ID() != sortAttr {
		return nil, false
	}

	lo, hi := sortColumnBounds(numTuples, literal, valueAt)
	matches := NewTupleIDSequence()
	switch op {
	case expr.Equal:
		matches.AppendRange(TupleID(lo), TupleID(hi))
	case expr.NotEqual:
		matches.AppendRange(0, TupleID(lo))
		matches.AppendRange(TupleID(hi), TupleID(numTuples))
	case expr.Less:
		matches.AppendRange(0, TupleID(lo))
	case expr.LessOrEqual:
		matches.AppendRange(0, TupleID(hi))
	case expr.Greater:
		matches.AppendRange(TupleID(hi), TupleID(numTuples))
	case expr.GreaterOrEqual:
		matches.AppendRange(TupleID(lo), TupleID(numTuples))
	}
	return matches, true
}
