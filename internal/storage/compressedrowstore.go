package storage

import (
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// compressedPackedRowStore stores tuples at a fixed stride of per-attribute
// code widths, established by the builder at rebuild time. Tuple ids are
// positions, as in the uncompressed row store.
type compressedPackedRowStore struct {
	compressedStoreBase

	stride      int
	attrOffsets []int
}

func newCompressedPackedRowStore(relation *catalog.Relation, desc *TupleStoreDescription, newBlock bool, memory []byte) (*compressedPackedRowStore, error) {
	if desc.Kind != CompressedPackedRowStore || !compressedDescriptionIsValid(relation, desc) {
		return nil, fmt.Errorf("%w: compressed packed row store", ErrInvalidLayout)
	}
	if len(memory) < compressedHeaderFixedSize {
		return nil, fmt.Errorf("%w: compressed packed row store needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, compressedHeaderFixedSize, len(memory))
	}
	s := &compressedPackedRowStore{
		compressedStoreBase: compressedStoreBase{relation: relation, desc: desc, memory: memory},
	}
	if newBlock {
		s.setNumTuples(0)
		s.builder = newCompressedBlockBuilder(relation, desc, len(memory), false)
	} else if s.numTuples() != 0 {
		if err := s.initialize(); err != nil {
			return nil, err
		}
	} else {
		s.builder = newCompressedBlockBuilder(relation, desc, len(memory), false)
	}
	return s, nil
}

// initialize parses compression metadata and precomputes the row stride and
// per-attribute offsets.
func (s *compressedPackedRowStore) initialize() error {
	if err := s.initializeCommon(); err != nil {
		return err
	}
	s.stride = s.info.tupleLength()
	s.attrOffsets = make([]int, s.relation.NumAttributes())
	offset := 0
	for _, attr := range s.relation.Attributes() {
		s.attrOffsets[attr.ID()] = offset
		offset += s.info.widths[attr.ID()]
	}
	return nil
}

func (s *compressedPackedRowStore) attributeBytes(tid TupleID, attr catalog.AttributeID) []byte {
	base := s.dataOffset + int(tid)*s.stride + s.attrOffsets[attr]
	return s.memory[base : base+s.info.widths[attr]]
}

func (s *compressedPackedRowStore) codeAt(tid TupleID, attr catalog.AttributeID) uint32 {
	return readCode(s.attributeBytes(tid, attr), s.info.widths[attr])
}

func (s *compressedPackedRowStore) Kind() TupleStoreKind { return CompressedPackedRowStore }

func (s *compressedPackedRowStore) SupportsUntypedGet(attr catalog.AttributeID) bool {
	if s.info != nil {
		return !s.info.isCompressed(attr)
	}
	for _, id := range s.desc.CompressedAttributeIDs {
		if id == attr {
			return false
		}
	}
	return true
}

// SupportsAdHocInsert is false: tuples arrive in batches and take their
// compressed form at Rebuild.
func (s *compressedPackedRowStore) SupportsAdHocInsert() bool { return false }

func (s *compressedPackedRowStore) AdHocInsertIsEfficient() bool { return false }

func (s *compressedPackedRowStore) IsEmpty() bool {
	if s.builder != nil {
		return s.builder.numTuples() == 0 && s.numTuples() == 0
	}
	return s.numTuples() == 0
}

func (s *compressedPackedRowStore) IsPacked() bool { return true }

func (s *compressedPackedRowStore) MaxTupleID() TupleID { return TupleID(s.numTuples()) - 1 }

func (s *compressedPackedRowStore) NumTuples() int { return s.numTuples() }

func (s *compressedPackedRowStore) HasTuple(tid TupleID) bool {
	return tid >= 0 && int(tid) < s.numTuples()
}

// Insert always fails: ad-hoc insertion is unsupported for compressed
// stores.
func (s *compressedPackedRowStore) Insert(*types.Tuple, types.ConversionPolicy) InsertResult {
	return InsertResult{InsertedID: InvalidTupleID}
}

func (s *compressedPackedRowStore) InsertInBatch(tuple *types.Tuple, policy types.ConversionPolicy) bool {
	s.ensureBuilder()
	return s.builder.addTuple(tuple, policy)
}

// ensureBuilder re-opens building after a completed rebuild by re-buffering
// the stored tuples in decompressed form.
func (s *compressedPackedRowStore) ensureBuilder() {
	if s.builder != nil {
		return
	}
	builder := newCompressedBlockBuilder(s.relation, s.desc, len(s.memory), false)
	for tid := TupleID(0); int(tid) < s.numTuples(); tid++ {
		tuple := types.NewTuple()
		for _, attr := range s.relation.Attributes() {
			// The builder overwrites this region at the next rebuild, so
			// the buffered values must own their bytes.
			tuple.Append(s.AttributeValue(tid, attr.ID()).Clone())
		}
		if !builder.addTuple(tuple, types.ConvertNone) {
			panic("storage: re-buffering existing tuples overflowed the region")
		}
	}
	s.builder = builder
	s.setNumTuples(0)
	s.info = nil
}

func (s *compressedPackedRowStore) AttributeValueBytes(tid TupleID, attr catalog.AttributeID) []byte {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: compressed row store has no tuple %d", tid))
	}
	if !s.SupportsUntypedGet(attr) {
		panic(fmt.Sprintf("storage: untyped get of compressed attribute %d", attr))
	}
	return s.attributeBytes(tid, attr)
}

func (s *compressedPackedRowStore) AttributeValue(tid TupleID, attr catalog.AttributeID) types.Value {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: compressed row store has no tuple %d", tid))
	}
	if s.info.isCompressed(attr) {
		return s.typedValueFromCode(attr, s.codeAt(tid, attr))
	}
	return types.ValueFromBytes(s.relation.Attribute(attr).Type(), s.attributeBytes(tid, attr))
}

// Delete truncates for the last tuple, otherwise shifts the row suffix one
// stride forward, renumbering higher ids.
func (s *compressedPackedRowStore) Delete(tid TupleID) bool {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: compressed row store has no tuple %d", tid))
	}
	n := s.numTuples()
	if int(tid) == n-1 {
		s.setNumTuples(n - 1)
		return false
	}
	dest := s.dataOffset + int(tid)*s.stride
	src := dest + s.stride
	end := s.dataOffset + n*s.stride
	copy(s.memory[dest:], s.memory[src:end])
	s.setNumTuples(n - 1)
	return true
}

func (s *compressedPackedRowStore) Matches(predicate *expr.Predicate) *TupleIDSequence {
	if predicate == nil {
		matches := NewTupleIDSequence()
		matches.AppendRange(0, TupleID(s.numTuples()))
		return matches
	}
	if s.info != nil {
		plan := s.translatePredicate(predicate)
		if plan.kind != codePlanNone {
			return scanCodes(plan, s.numTuples(), func(tid TupleID) uint32 {
				return s.codeAt(tid, plan.attr)
			})
		}
	}
	return matchesLinear(s, predicate)
}

// Rebuild compresses the buffered batch into the region and re-parses the
// resulting metadata.
func (s *compressedPackedRowStore) Rebuild() {
	if s.builder == nil {
		return
	}
	s.builder.build(s.memory)
	s.builder = nil
	if err := s.initialize(); err != nil {
		panic(fmt.Sprintf("storage: rebuild produced an unreadable compressed row store: %v", err))
	}
}

func (s *compressedPackedRowStore) IsCompressed() bool { return true }
