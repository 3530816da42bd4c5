package explorer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

func TestGeneratedRelations(t *testing.T) {
	tests := []struct {
		table         TableChoice
		wantName      string
		wantArity     int
		wantTupleSize int
	}{
		{TableNarrowE, "NarrowE", 10, 40},
		{TableNarrowU, "NarrowU", 10, 40},
		{TableWideE, "WideE", 50, 200},
		{TableStrings, "Strings", 10, 200},
	}
	for _, tt := range tests {
		t.Run(string(tt.table), func(t *testing.T) {
			relation := NewDataGenerator(tt.table).GenerateRelation()
			if relation.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", relation.Name(), tt.wantName)
			}
			if relation.NumAttributes() != tt.wantArity {
				t.Errorf("NumAttributes() = %d, want %d", relation.NumAttributes(), tt.wantArity)
			}
			if relation.FixedByteLength() != tt.wantTupleSize {
				t.Errorf("FixedByteLength() = %d, want %d", relation.FixedByteLength(), tt.wantTupleSize)
			}
		})
	}
}

func TestNumericTuplesStayInDomain(t *testing.T) {
	generator := NewDataGenerator(TableNarrowE)
	relation := generator.GenerateRelation()
	rng := rand.New(rand.NewSource(1))

	// Column domains grow exponentially; column 0 is the narrowest.
	domain0 := int32(math.Pow(2, 2.7))
	for i := 0; i < 1000; i++ {
		tuple := generator.GenerateTuple(rng)
		if tuple.Size() != relation.NumAttributes() {
			t.Fatalf("tuple arity = %d", tuple.Size())
		}
		v := tuple.Value(0).Int()
		if v < 0 || v >= domain0 {
			t.Fatalf("column 0 value %d outside [0, %d)", v, domain0)
		}
	}
}

func TestPartitionedTuplesAreDisjoint(t *testing.T) {
	generator := NewDataGenerator(TableNarrowU)
	rng := rand.New(rand.NewSource(4))

	const partitions = 4
	const domain = 100000000
	width := domain / partitions
	for p := 0; p < partitions; p++ {
		for i := 0; i < 200; i++ {
			tuple := generator.GenerateTupleForPartition(rng, 3, p, partitions)
			v := int(tuple.Value(3).Int())
			if v < width*p || v >= width*(p+1) {
				t.Fatalf("partition %d produced %d outside [%d, %d)", p, v, width*p, width*(p+1))
			}
		}
	}
}

func TestNumericPredicateSelectivity(t *testing.T) {
	generator := NewDataGenerator(TableNarrowU)
	relation := generator.GenerateRelation()
	rng := rand.New(rand.NewSource(8))

	predicate := generator.GeneratePredicate(relation, 2, 0.25)
	matched := 0
	const n = 20000
	for i := 0; i < n; i++ {
		tuple := generator.GenerateTuple(rng)
		if predicate.Matches(func(id catalog.AttributeID) types.Value { return tuple.Value(int(id)) }) {
			matched++
		}
	}
	got := float64(matched) / n
	if math.Abs(got-0.25) > 0.02 {
		t.Errorf("observed selectivity %g, want ~0.25", got)
	}
}

func TestPredicateTrivialEnds(t *testing.T) {
	generator := NewDataGenerator(TableNarrowE)
	relation := generator.GenerateRelation()
	if p := generator.GeneratePredicate(relation, 0, 0); p.Kind() != expr.PredicateFalse {
		t.Errorf("selectivity 0 => %v, want trivial false", p.Kind())
	}
	if p := generator.GeneratePredicate(relation, 0, 1); p.Kind() != expr.PredicateTrue {
		t.Errorf("selectivity 1 => %v, want trivial true", p.Kind())
	}
}

func TestStringsPredicateSelectivity(t *testing.T) {
	generator := NewDataGenerator(TableStrings)
	relation := generator.GenerateRelation()
	rng := rand.New(rand.NewSource(12))

	predicate := generator.GeneratePredicate(relation, 0, 0.5)
	matched := 0
	const n = 10000
	for i := 0; i < n; i++ {
		tuple := generator.GenerateTuple(rng)
		if predicate.Matches(func(id catalog.AttributeID) types.Value { return tuple.Value(int(id)) }) {
			matched++
		}
	}
	got := float64(matched) / n
	if math.Abs(got-0.5) > 0.05 {
		t.Errorf("observed selectivity %g, want ~0.5", got)
	}
}

func TestGenerateFiveCharsIsMonotonic(t *testing.T) {
	// The word encoding must preserve order so threshold predicates work.
	var prev [5]byte
	generateFiveChars(0, prev[:])
	for _, word := range []int{1, 100, 65536, 1 << 20, fiveCharWords - 1} {
		var cur [5]byte
		generateFiveChars(word, cur[:])
		if string(cur[:]) <= string(prev[:]) {
			t.Fatalf("word %d encodes %q, not above %q", word, cur, prev)
		}
		prev = cur
	}
}
