package storage

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

func compressedIntDescription(kind TupleStoreKind, columns int, sortAttr int32) *TupleStoreDescription {
	desc := &TupleStoreDescription{Kind: kind, SortAttributeID: sortAttr}
	for i := 0; i < columns; i++ {
		desc.CompressedAttributeIDs = append(desc.CompressedAttributeIDs, catalog.AttributeID(i))
	}
	return desc
}

func TestCompressedRowStoreTruncation(t *testing.T) {
	// A narrow int domain truncates to one-byte codes.
	relation := intRelation(2)
	desc := compressedIntDescription(CompressedPackedRowStore, 2, 0)
	store, err := newCompressedPackedRowStore(relation, desc, true, make([]byte, 1<<16))
	if err != nil {
		t.Fatalf("newCompressedPackedRowStore() error = %v", err)
	}

	rng := rand.New(rand.NewSource(5))
	const n = 1000
	want42 := 0
	for i := 0; i < n; i++ {
		tuple := randomIntTuple(rng, 2, 100)
		if tuple.Value(0).Int() == 42 {
			want42++
		}
		if !store.InsertInBatch(tuple, types.ConvertNone) {
			t.Fatalf("batch insert %d failed", i)
		}
	}
	store.Rebuild()

	if !store.IsCompressed() {
		t.Error("IsCompressed() = false")
	}
	for attr := catalog.AttributeID(0); attr < 2; attr++ {
		if !store.info.truncated[attr] {
			t.Errorf("attribute %d not truncated", attr)
		}
		if store.info.widths[attr] != 1 {
			t.Errorf("attribute %d code width = %d, want 1 for domain [0,100)", attr, store.info.widths[attr])
		}
	}

	matches := store.Matches(comparisonPredicate(relation, 0, expr.Equal, types.NewInt(42)))
	if matches.Size() != want42 {
		t.Errorf("Matches(col0 = 42) size = %d, want %d", matches.Size(), want42)
	}
	for _, tid := range matches.IDs() {
		if v := store.AttributeValue(tid, 0); v.Int() != 42 {
			t.Errorf("matched tuple %d has col0 = %d", tid, v.Int())
		}
	}

	// A literal outside the observed code domain.
	if got := store.Matches(comparisonPredicate(relation, 0, expr.Equal, types.NewInt(5000))).Size(); got != 0 {
		t.Errorf("Matches(col0 = 5000) size = %d, want 0", got)
	}
	if got := store.Matches(comparisonPredicate(relation, 0, expr.NotEqual, types.NewInt(5000))).Size(); got != n {
		t.Errorf("Matches(col0 <> 5000) size = %d, want %d", got, n)
	}
	if got := store.Matches(comparisonPredicate(relation, 0, expr.Less, types.NewInt(5000))).Size(); got != n {
		t.Errorf("Matches(col0 < 5000) size = %d, want %d", got, n)
	}
}

func TestCompressedCodeWidthIsMinimal(t *testing.T) {
	tests := []struct {
		name      string
		domain    int32
		wantWidth int
	}{
		{name: "one byte", domain: 200, wantWidth: 1},
		{name: "two bytes", domain: 60000, wantWidth: 2},
		{name: "four bytes needs no truncation", domain: 1 << 30, wantWidth: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relation := intRelation(1)
			desc := compressedIntDescription(CompressedPackedRowStore, 1, 0)
			store, err := newCompressedPackedRowStore(relation, desc, true, make([]byte, 1<<20))
			if err != nil {
				t.Fatalf("newCompressedPackedRowStore() error = %v", err)
			}
			rng := rand.New(rand.NewSource(1))
			for i := 0; i < 2000; i++ {
				store.InsertInBatch(intTuple(rng.Int31n(tt.domain)), types.ConvertNone)
			}
			// Pin the domain's top end so the width is deterministic.
			store.InsertInBatch(intTuple(tt.domain-1), types.ConvertNone)
			store.Rebuild()
			if got := store.info.widths[0]; got != tt.wantWidth {
				t.Errorf("code width = %d, want %d", got, tt.wantWidth)
			}
		})
	}
}

func TestCompressedColumnStoreDictionaryEquality(t *testing.T) {
	// Low-cardinality strings dictionary-code; equality against a stored
	// word returns exactly its carriers, an absent word returns nothing.
	relation := charRelation(3, 20)
	desc := compressedIntDescription(CompressedColumnStore, 3, 0)
	store, err := newCompressedColumnStore(relation, desc, true, make([]byte, 1<<20))
	if err != nil {
		t.Fatalf("newCompressedColumnStore() error = %v", err)
	}

	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	rng := rand.New(rand.NewSource(9))
	const n = 5000
	carriers := make(map[string]int)
	for i := 0; i < n; i++ {
		tuple := types.NewTuple()
		for c := 0; c < 3; c++ {
			w := words[rng.Intn(len(words))]
			if c == 1 {
				carriers[w]++
			}
			tuple.Append(types.NewChar(w, 20))
		}
		if !store.InsertInBatch(tuple, types.ConvertNone) {
			t.Fatalf("batch insert %d failed", i)
		}
	}
	store.Rebuild()

	for attr := catalog.AttributeID(0); attr < 3; attr++ {
		if !store.info.dictionaryCoded[attr] {
			t.Errorf("attribute %d not dictionary coded", attr)
		}
		if store.info.widths[attr] != 1 {
			t.Errorf("attribute %d code width = %d, want 1 for %d distinct values",
				attr, store.info.widths[attr], len(words))
		}
	}

	if got := store.Matches(comparisonPredicate(relation, 1, expr.Equal, types.NewChar("literal-not-in-data", 20))).Size(); got != 0 {
		t.Errorf("Matches(absent literal) size = %d, want 0", got)
	}

	for _, w := range words {
		matches := store.Matches(comparisonPredicate(relation, 1, expr.Equal, types.NewChar(w, 20)))
		if matches.Size() != carriers[w] {
			t.Errorf("Matches(col1 = %q) size = %d, want %d", w, matches.Size(), carriers[w])
		}
		for _, tid := range matches.IDs() {
			if got := store.AttributeValue(tid, 1).CharString(); got != w {
				t.Errorf("matched tuple %d carries %q, want %q", tid, got, w)
			}
		}
	}
}

func TestCompressedColumnStoreSortFastPath(t *testing.T) {
	relation := intRelation(4)
	desc := compressedIntDescription(CompressedColumnStore, 4, 2)
	store, err := newCompressedColumnStore(relation, desc, true, make([]byte, 1<<20))
	if err != nil {
		t.Fatalf("newCompressedColumnStore() error = %v", err)
	}

	rng := rand.New(rand.NewSource(23))
	const n = 8000
	for i := 0; i < n; i++ {
		if !store.InsertInBatch(randomIntTuple(rng, 4, 250), types.ConvertNone) {
			t.Fatalf("batch insert %d failed", i)
		}
	}
	store.Rebuild()

	// Sort column non-decreasing after rebuild.
	for i := 0; i < n-1; i++ {
		a := store.AttributeValue(TupleID(i), 2).Int()
		b := store.AttributeValue(TupleID(i+1), 2).Int()
		if a > b {
			t.Fatalf("sort column out of order at %d: %d > %d", i, a, b)
		}
	}

	for _, tt := range []struct {
		op      expr.ComparisonOp
		literal int32
	}{
		{expr.Equal, 100},
		{expr.NotEqual, 100},
		{expr.Less, 60},
		{expr.LessOrEqual, 60},
		{expr.Greater, 200},
		{expr.GreaterOrEqual, 200},
		{expr.Less, 0},
		{expr.Greater, 249},
	} {
		t.Run(fmt.Sprintf("col2 %s %d", tt.op, tt.literal), func(t *testing.T) {
			matches := store.Matches(comparisonPredicate(relation, 2, tt.op, types.NewInt(tt.literal)))
			want := 0
			literal := types.NewInt(tt.literal)
			for tid := TupleID(0); int(tid) < n; tid++ {
				if tt.op.Apply(store.AttributeValue(tid, 2), literal) {
					want++
				}
			}
			if matches.Size() != want {
				t.Errorf("size = %d, want %d", matches.Size(), want)
			}
			for _, tid := range matches.IDs() {
				if !tt.op.Apply(store.AttributeValue(tid, 2), literal) {
					t.Errorf("tuple %d does not satisfy the predicate", tid)
				}
			}
		})
	}

	// Predicates on a non-sort compressed column scan codes.
	matches := store.Matches(comparisonPredicate(relation, 0, expr.Less, types.NewInt(50)))
	for _, tid := range matches.IDs() {
		if v := store.AttributeValue(tid, 0); v.Int() >= 50 {
			t.Errorf("tuple %d has col0 = %d", tid, v.Int())
		}
	}
}

func TestCompressedRoundTripMatchesAll(t *testing.T) {
	// Insert a batch, rebuild, scan with a nil predicate: exactly the
	// inserted tuples come back, in sort order for the column variant.
	for _, kind := range []TupleStoreKind{CompressedPackedRowStore, CompressedColumnStore} {
		t.Run(kind.String(), func(t *testing.T) {
			relation := intRelation(2)
			desc := compressedIntDescription(kind, 2, 0)
			store, err := NewTupleStore(relation, desc, true, make([]byte, 1<<16))
			if err != nil {
				t.Fatalf("NewTupleStore() error = %v", err)
			}
			inserted := make(map[int64]int)
			rng := rand.New(rand.NewSource(31))
			const n = 700
			for i := 0; i < n; i++ {
				tuple := randomIntTuple(rng, 2, 1000)
				key := int64(tuple.Value(0).Int())<<32 | int64(tuple.Value(1).Int())
				inserted[key]++
				if !store.InsertInBatch(tuple, types.ConvertNone) {
					t.Fatalf("batch insert %d failed", i)
				}
			}
			store.Rebuild()

			all := store.Matches(nil)
			if all.Size() != n {
				t.Fatalf("Matches(nil) size = %d, want %d", all.Size(), n)
			}
			got := make(map[int64]int)
			for _, tid := range all.IDs() {
				key := int64(store.AttributeValue(tid, 0).Int())<<32 | int64(store.AttributeValue(tid, 1).Int())
				got[key]++
			}
			for key, count := range inserted {
				if got[key] != count {
					t.Errorf("tuple key %d: got %d copies, want %d", key, got[key], count)
				}
			}
		})
	}
}

func TestCompressedStoreAdHocInsertAlwaysFails(t *testing.T) {
	relation := intRelation(1)
	desc := compressedIntDescription(CompressedPackedRowStore, 1, 0)
	store, err := newCompressedPackedRowStore(relation, desc, true, make([]byte, 4096))
	if err != nil {
		t.Fatalf("newCompressedPackedRowStore() error = %v", err)
	}
	if store.SupportsAdHocInsert() {
		t.Error("SupportsAdHocInsert() = true")
	}
	if r := store.Insert(intTuple(1), types.ConvertNone); r.InsertedID != InvalidTupleID {
		t.Errorf("Insert id = %d, want %d", r.InsertedID, InvalidTupleID)
	}
}

func TestCompressedStoreDelete(t *testing.T) {
	relation := intRelation(1)
	desc := compressedIntDescription(CompressedPackedRowStore, 1, 0)
	store, err := newCompressedPackedRowStore(relation, desc, true, make([]byte, 4096))
	if err != nil {
		t.Fatalf("newCompressedPackedRowStore() error = %v", err)
	}
	for i := int32(0); i < 10; i++ {
		store.InsertInBatch(intTuple(i), types.ConvertNone)
	}
	store.Rebuild()

	if store.Delete(9) {
		t.Error("deleting the last tuple must not mutate ids")
	}
	if !store.Delete(3) {
		t.Error("deleting a middle tuple must mutate ids")
	}
	if store.NumTuples() != 8 {
		t.Errorf("NumTuples() = %d, want 8", store.NumTuples())
	}
	if v := store.AttributeValue(3, 0); v.Int() != 4 {
		t.Errorf("tuple 3 after shift = %d, want 4", v.Int())
	}
}

func TestCompressedBuilderRejectsOverflow(t *testing.T) {
	relation := intRelation(1)
	desc := compressedIntDescription(CompressedPackedRowStore, 1, 0)
	store, err := newCompressedPackedRowStore(relation, desc, true, make([]byte, 64))
	if err != nil {
		t.Fatalf("newCompressedPackedRowStore() error = %v", err)
	}
	accepted := 0
	for i := int32(0); i < 1000; i++ {
		if store.InsertInBatch(intTuple(i%10), types.ConvertNone) {
			accepted++
		} else {
			break
		}
	}
	if accepted == 0 || accepted == 1000 {
		t.Fatalf("accepted = %d, want a partial batch", accepted)
	}
	store.Rebuild()
	if store.NumTuples() != accepted {
		t.Errorf("NumTuples() = %d, want %d", store.NumTuples(), accepted)
	}
}
