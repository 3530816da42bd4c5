package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// rowStoreHeaderSize is the packed row store's in-region header: a single
// little-endian int32 tuple counter.
const rowStoreHeaderSize = 4

// packedRowStore stores fixed-length tuples back to back after the header,
// each at stride relation.FixedByteLength(). Tuple ids are positions, so the
// store is always packed.
type packedRowStore struct {
	relation *catalog.Relation
	memory   []byte
	stride   int
	capacity int
}

func rowStoreDescriptionIsValid(relation *catalog.Relation, desc *TupleStoreDescription) bool {
	if desc.Kind != PackedRowStore {
		return false
	}
	if relation.IsVariableLength() || relation.HasNullableAttributes() {
		return false
	}
	return true
}

func rowStoreEstimateBytesPerTuple(relation *catalog.Relation) int {
	return relation.FixedByteLength()
}

func newPackedRowStore(relation *catalog.Relation, desc *TupleStoreDescription, newBlock bool, memory []byte) (*packedRowStore, error) {
	if !rowStoreDescriptionIsValid(relation, desc) {
		return nil, fmt.Errorf("%w: packed row store", ErrInvalidLayout)
	}
	if len(memory) < rowStoreHeaderSize {
		return nil, fmt.Errorf("%w: packed row store needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, rowStoreHeaderSize, len(memory))
	}
	store := &packedRowStore{
		relation: relation,
		memory:   memory,
		stride:   relation.FixedByteLength(),
		capacity: (len(memory) - rowStoreHeaderSize) / relation.FixedByteLength(),
	}
	if newBlock {
		store.setNumTuples(0)
	}
	return store, nil
}

func (s *packedRowStore) numTuples() int {
	return int(int32(binary.LittleEndian.Uint32(s.memory)))
}

func (s *packedRowStore) setNumTuples(n int) {
	binary.LittleEndian.PutUint32(s.memory, uint32(int32(n)))
}

func (s *packedRowStore) tupleBytes(tid TupleID) []byte {
	offset := rowStoreHeaderSize + int(tid)*s.stride
	return s.memory[offset : offset+s.stride]
}

func (s *packedRowStore) Kind() TupleStoreKind { return PackedRowStore }

func (s *packedRowStore) SupportsUntypedGet(catalog.AttributeID) bool { return true }

func (s *packedRowStore) SupportsAdHocInsert() bool { return true }

func (s *packedRowStore) AdHocInsertIsEfficient() bool { return true }

func (s *packedRowStore) IsEmpty() bool { return s.numTuples() == 0 }

func (s *packedRowStore) IsPacked() bool { return true }

func (s *packedRowStore) MaxTupleID() TupleID { return TupleID(s.numTuples()) - 1 }

func (s *packedRowStore) NumTuples() int { return s.numTuples() }

func (s *packedRowStore) HasTuple(tid TupleID) bool {
	return tid >= 0 && int(tid) < s.numTuples()
}

func (s *packedRowStore) hasSpaceToInsert(n int) bool {
	return s.numTuples()+n <= s.capacity
}

func (s *packedRowStore) writeTuple(tid TupleID, values []types.Value) {
	dest := s.tupleBytes(tid)
	offset := 0
	for _, v := range values {
		offset += copy(dest[offset:], v.Bytes())
	}
}

// Insert appends the tuple at the end of the packed region. It fails only
// when the store is full.
func (s *packedRowStore) Insert(tuple *types.Tuple, policy types.ConversionPolicy) InsertResult {
	if !s.hasSpaceToInsert(1) {
		return InsertResult{InsertedID: InvalidTupleID}
	}
	values := convertTupleValues(s.relation, tuple, policy)
	n := s.numTuples()
	s.writeTuple(TupleID(n), values)
	s.setNumTuples(n + 1)
	return InsertResult{InsertedID: TupleID(n)}
}

// InsertInBatch is identical to Insert for a row store; appending is already
// the clean structure.
func (s *packedRowStore) InsertInBatch(tuple *types.Tuple, policy types.ConversionPolicy) bool {
	return s.Insert(tuple, policy).InsertedID >= 0
}

func (s *packedRowStore) AttributeValueBytes(tid TupleID, attr catalog.AttributeID) []byte {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: row store has no tuple %d", tid))
	}
	offset := s.relation.FixedLengthOffset(attr)
	width := s.relation.Attribute(attr).Type().MaxByteLength()
	return s.tupleBytes(tid)[offset : offset+width]
}

func (s *packedRowStore) AttributeValue(tid TupleID, attr catalog.AttributeID) types.Value {
	return types.ValueFromBytes(s.relation.Attribute(attr).Type(), s.AttributeValueBytes(tid, attr))
}

// Delete truncates when removing the last tuple; otherwise it shifts the
// suffix one stride toward the front. The shift renumbers every higher id
// down by one, which Delete reports so callers rebuild indexes.
func (s *packedRowStore) Delete(tid TupleID) bool {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: row store has no tuple %d", tid))
	}
	n := s.numTuples()
	if int(tid) == n-1 {
		s.setNumTuples(n - 1)
		return false
	}
	dest := rowStoreHeaderSize + int(tid)*s.stride
	src := dest + s.stride
	end := rowStoreHeaderSize + n*s.stride
	copy(s.memory[dest:], s.memory[src:end])
	s.setNumTuples(n - 1)
	return true
}

func (s *packedRowStore) Matches(predicate *expr.Predicate) *TupleIDSequence {
	return matchesLinear(s, predicate)
}

// Rebuild is a no-op: the packed row layout is always clean.
func (s *packedRowStore) Rebuild() {}

func (s *packedRowStore) IsCompressed() bool { return false }
