package storage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// columnStoreHeaderSize is the column store's in-region header: a
// little-endian int32 tuple counter plus a sorted flag (padded to 8 bytes so
// stripes start aligned).
const columnStoreHeaderSize = 8

// basicColumnStore stores one fixed-width stripe per attribute, allocated
// back to back after the header, with the designated sort attribute's stripe
// kept non-decreasing. Values across stripes at the same position form one
// tuple, so the store is always packed.
type basicColumnStore struct {
	relation *catalog.Relation
	memory   []byte
	sortAttr catalog.AttributeID

	capacity      int
	stripeOffsets []int
}

func columnStoreDescriptionIsValid(relation *catalog.Relation, desc *TupleStoreDescription) bool {
	if desc.Kind != BasicColumnStore {
		return false
	}
	if relation.IsVariableLength() || relation.HasNullableAttributes() {
		return false
	}
	if !relation.HasAttribute(desc.SortAttributeID) {
		return false
	}
	return relation.Attribute(desc.SortAttributeID).Type().IsOrderable()
}

func columnStoreEstimateBytesPerTuple(relation *catalog.Relation) int {
	return relation.FixedByteLength()
}

func newBasicColumnStore(relation *catalog.Relation, desc *TupleStoreDescription, newBlock bool, memory []byte) (*basicColumnStore, error) {
	if !columnStoreDescriptionIsValid(relation, desc) {
		return nil, fmt.Errorf("%w: basic column store", ErrInvalidLayout)
	}
	if len(memory) < columnStoreHeaderSize+relation.FixedByteLength() {
		return nil, fmt.Errorf("%w: basic column store needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, columnStoreHeaderSize+relation.FixedByteLength(), len(memory))
	}

	store := &basicColumnStore{
		relation: relation,
		memory:   memory,
		sortAttr: desc.SortAttributeID,
		capacity: (len(memory) - columnStoreHeaderSize) / relation.FixedByteLength(),
	}
	store.stripeOffsets = make([]int, relation.NumAttributes())
	offset := columnStoreHeaderSize
	for i, attr := range relation.Attributes() {
		store.stripeOffsets[i] = offset
		offset += store.capacity * attr.Type().MaxByteLength()
	}

	if newBlock {
		store.setNumTuples(0)
		store.setSorted(true)
	}
	return store, nil
}

func (s *basicColumnStore) numTuples() int {
	return int(int32(binary.LittleEndian.Uint32(s.memory)))
}

func (s *basicColumnStore) setNumTuples(n int) {
	binary.LittleEndian.PutUint32(s.memory, uint32(int32(n)))
}

func (s *basicColumnStore) sorted() bool { return s.memory[4] != 0 }

func (s *basicColumnStore) setSorted(v bool) {
	if v {
		s.memory[4] = 1
	} else {
		s.memory[4] = 0
	}
}

// valueBytes returns the raw bytes of one attribute at one position.
func (s *basicColumnStore) valueBytes(tid TupleID, attr catalog.AttributeID) []byte {
	width := s.relation.Attribute(attr).Type().MaxByteLength()
	offset := s.stripeOffsets[attr] + int(tid)*width
	return s.memory[offset : offset+width]
}

func (s *basicColumnStore) Kind() TupleStoreKind { return BasicColumnStore }

func (s *basicColumnStore) SupportsUntypedGet(catalog.AttributeID) bool { return true }

func (s *basicColumnStore) SupportsAdHocInsert() bool { return true }

// AdHocInsertIsEfficient is false: keeping the sort column ordered shifts an
// unbounded number of tuples per insert.
func (s *basicColumnStore) AdHocInsertIsEfficient() bool { return false }

func (s *basicColumnStore) IsEmpty() bool { return s.numTuples() == 0 }

func (s *basicColumnStore) IsPacked() bool { return true }

func (s *basicColumnStore) MaxTupleID() TupleID { return TupleID(s.numTuples()) - 1 }

func (s *basicColumnStore) NumTuples() int { return s.numTuples() }

func (s *basicColumnStore) HasTuple(tid TupleID) bool {
	return tid >= 0 && int(tid) < s.numTuples()
}

// insertPosition binary-searches the sort column for where the value
// belongs, placing equal values after their duplicates.
func (s *basicColumnStore) insertPosition(sortValue types.Value) int {
	n := s.numTuples()
	return sort.Search(n, func(i int) bool {
		stored := types.ValueFromBytes(s.relation.Attribute(s.sortAttr).Type(), s.valueBytes(TupleID(i), s.sortAttr))
		return stored.Compare(sortValue) > 0
	})
}

// shiftStripesUp moves positions [p, n) one slot toward the back in every
// stripe, opening a hole at p.
func (s *basicColumnStore) shiftStripesUp(p, n int) {
	for _, attr := range s.relation.Attributes() {
		width := attr.Type().MaxByteLength()
		base := s.stripeOffsets[attr.ID()]
		src := base + p*width
		dest := base + (p+1)*width
		copy(s.memory[dest:dest+(n-p)*width], s.memory[src:src+(n-p)*width])
	}
}

// shiftStripesDown moves positions [p+1, n) one slot toward the front in
// every stripe, closing the hole at p.
func (s *basicColumnStore) shiftStripesDown(p, n int) {
	for _, attr := range s.relation.Attributes() {
		width := attr.Type().MaxByteLength()
		base := s.stripeOffsets[attr.ID()]
		src := base + (p+1)*width
		dest := base + p*width
		copy(s.memory[dest:dest+(n-p-1)*width], s.memory[src:src+(n-p-1)*width])
	}
}

func (s *basicColumnStore) writeTuple(tid TupleID, values []types.Value) {
	for i := range values {
		copy(s.valueBytes(tid, catalog.AttributeID(i)), values[i].Bytes())
	}
}

// Insert places the tuple at its sorted position, shifting later tuples in
// every stripe. IDsMutated is true iff the insert position was not the end.
func (s *basicColumnStore) Insert(tuple *types.Tuple, policy types.ConversionPolicy) InsertResult {
	n := s.numTuples()
	if n >= s.capacity {
		return InsertResult{InsertedID: InvalidTupleID}
	}
	values := convertTupleValues(s.relation, tuple, policy)
	p := s.insertPosition(values[s.sortAttr])
	if p < n {
		s.shiftStripesUp(p, n)
	}
	s.writeTuple(TupleID(p), values)
	s.setNumTuples(n + 1)
	return InsertResult{InsertedID: TupleID(p), IDsMutated: p < n}
}

// InsertInBatch appends at the end without maintaining sort order; Rebuild
// restores it.
func (s *basicColumnStore) InsertInBatch(tuple *types.Tuple, policy types.ConversionPolicy) bool {
	n := s.numTuples()
	if n >= s.capacity {
		return false
	}
	values := convertTupleValues(s.relation, tuple, policy)
	s.writeTuple(TupleID(n), values)
	s.setNumTuples(n + 1)
	s.setSorted(false)
	return true
}

func (s *basicColumnStore) AttributeValueBytes(tid TupleID, attr catalog.AttributeID) []byte {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: column store has no tuple %d", tid))
	}
	return s.valueBytes(tid, attr)
}

func (s *basicColumnStore) AttributeValue(tid TupleID, attr catalog.AttributeID) types.Value {
	return types.ValueFromBytes(s.relation.Attribute(attr).Type(), s.AttributeValueBytes(tid, attr))
}

// Delete closes the hole by shifting every stripe. Removing any tuple but
// the last renumbers the suffix, which Delete reports.
func (s *basicColumnStore) Delete(tid TupleID) bool {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: column store has no tuple %d", tid))
	}
	n := s.numTuples()
	if int(tid) == n-1 {
		s.setNumTuples(n - 1)
		return false
	}
	s.shiftStripesDown(int(tid), n)
	s.setNumTuples(n - 1)
	return true
}

func (s *basicColumnStore) Matches(predicate *expr.Predicate) *TupleIDSequence {
	if predicate == nil {
		return matchesLinear(s, nil)
	}
	if s.sorted() {
		sortType := s.relation.Attribute(s.sortAttr).Type()
		if matches, ok := evaluateSortColumnPredicate(predicate, s.sortAttr, s.numTuples(), func(i int) types.Value {
			return types.ValueFromBytes(sortType, s.valueBytes(TupleID(i), s.sortAttr))
		}); ok {
			return matches
		}
	}
	return matchesLinear(s, predicate)
}

// Rebuild re-sorts every stripe on the sort column after batch insertion.
func (s *basicColumnStore) Rebuild() {
	if s.sorted() {
		return
	}
	n := s.numTuples()
	sortType := s.relation.Attribute(s.sortAttr).Type()

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		va := types.ValueFromBytes(sortType, s.valueBytes(TupleID(perm[a]), s.sortAttr))
		vb := types.ValueFromBytes(sortType, s.valueBytes(TupleID(perm[b]), s.sortAttr))
		return va.Compare(vb) < 0
	})

	for _, attr := range s.relation.Attributes() {
		width := attr.Type().MaxByteLength()
		base := s.stripeOffsets[attr.ID()]
		reordered := make([]byte, n*width)
		for dest, src := range perm {
			copy(reordered[dest*width:(dest+1)*width], s.memory[base+src*width:base+(src+1)*width])
		}
		copy(s.memory[base:base+n*width], reordered)
	}
	s.setSorted(true)
}

func (s *basicColumnStore) IsCompressed() bool { return false }
