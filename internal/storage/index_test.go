package storage

import (
	"testing"

	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

func newTestIndexedStore(t *testing.T, indexEntries int) (*packedRowStore, *csbTreeIndex) {
	t.Helper()
	relation := intRelation(2)
	store, err := newPackedRowStore(relation, &TupleStoreDescription{Kind: PackedRowStore}, true, make([]byte, 1<<16))
	if err != nil {
		t.Fatalf("newPackedRowStore() error = %v", err)
	}
	desc := &IndexDescription{Kind: CSBTreeIndexKind, IndexedAttributeID: 0}
	index, err := newCSBTreeIndex(store, relation, desc, true, make([]byte, csbTreeIndexHeaderSize+indexEntries*(4+4)))
	if err != nil {
		t.Fatalf("newCSBTreeIndex() error = %v", err)
	}
	return store, index
}

func TestCSBTreeIndexAddAndMatch(t *testing.T) {
	store, index := newTestIndexedStore(t, 64)

	values := []int32{40, 10, 30, 10, 20}
	for i, v := range values {
		r := store.Insert(intTuple(v, int32(i)), types.ConvertNone)
		if !index.Add(r.InsertedID) {
			t.Fatalf("Add(%d) failed", r.InsertedID)
		}
	}

	result := index.Matches(comparisonPredicate(store.relation, 0, expr.Equal, types.NewInt(10)))
	if result.IsSuperset {
		t.Error("equality probe should be exact")
	}
	got := idSet(result.Sequence)
	if len(got) != 2 || !got[1] || !got[3] {
		t.Errorf("Matches(col0 = 10) = %v, want {1, 3}", result.Sequence.IDs())
	}

	result = index.Matches(comparisonPredicate(store.relation, 0, expr.Greater, types.NewInt(20)))
	got = idSet(result.Sequence)
	if len(got) != 2 || !got[0] || !got[2] {
		t.Errorf("Matches(col0 > 20) = %v, want {0, 2}", result.Sequence.IDs())
	}

	// A predicate on a non-indexed attribute is answered as a superset.
	result = index.Matches(comparisonPredicate(store.relation, 1, expr.Equal, types.NewInt(0)))
	if !result.IsSuperset {
		t.Error("probe on a different attribute must be a superset")
	}
	if result.Sequence.Size() != len(values) {
		t.Errorf("superset size = %d, want %d", result.Sequence.Size(), len(values))
	}
}

func TestCSBTreeIndexAddFullAndRemove(t *testing.T) {
	store, index := newTestIndexedStore(t, 3)

	for i := int32(0); i < 3; i++ {
		r := store.Insert(intTuple(i, i), types.ConvertNone)
		if !index.Add(r.InsertedID) {
			t.Fatalf("Add(%d) failed", r.InsertedID)
		}
	}
	r := store.Insert(intTuple(100, 100), types.ConvertNone)
	if index.Add(r.InsertedID) {
		t.Fatal("Add into a full index should fail")
	}

	index.Remove(1)
	if index.numEntries() != 2 {
		t.Errorf("numEntries() = %d after Remove, want 2", index.numEntries())
	}
	if !index.Add(r.InsertedID) {
		t.Error("Add should succeed after Remove freed a slot")
	}
}

func TestCSBTreeIndexRebuild(t *testing.T) {
	store, index := newTestIndexedStore(t, 128)

	for i := int32(0); i < 100; i++ {
		store.Insert(intTuple(i%13, i), types.ConvertNone)
	}
	if !index.Rebuild() {
		t.Fatal("Rebuild() failed with sufficient space")
	}
	if index.numEntries() != 100 {
		t.Errorf("numEntries() = %d, want 100", index.numEntries())
	}

	result := index.Matches(comparisonPredicate(store.relation, 0, expr.Equal, types.NewInt(5)))
	for _, tid := range result.Sequence.IDs() {
		if store.AttributeValue(tid, 0).Int() != 5 {
			t.Errorf("tuple %d has col0 = %d", tid, store.AttributeValue(tid, 0).Int())
		}
	}

	want := store.Matches(comparisonPredicate(store.relation, 0, expr.Equal, types.NewInt(5)))
	if result.Sequence.Size() != want.Size() {
		t.Errorf("index found %d matches, scan found %d", result.Sequence.Size(), want.Size())
	}
}

func TestCSBTreeIndexRebuildFullFails(t *testing.T) {
	store, index := newTestIndexedStore(t, 10)
	for i := int32(0); i < 50; i++ {
		store.Insert(intTuple(i, i), types.ConvertNone)
	}
	if index.Rebuild() {
		t.Fatal("Rebuild() should fail when the region is too small")
	}
	if index.numEntries() != 0 {
		t.Errorf("numEntries() = %d after failed rebuild, want 0", index.numEntries())
	}
}
