package storage

import (
	"fmt"
	"sort"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// compressedColumnStore combines the sort-ordered column layout with
// per-attribute compression: one code stripe per attribute, with the sort
// attribute's stripe non-decreasing in code order. Because dictionaries are
// ordered by value, code order equals value order and binary search on the
// sort stripe stays valid.
type compressedColumnStore struct {
	compressedStoreBase

	sortAttr      catalog.AttributeID
	maxNumTuples  int
	stripeOffsets []int
}

func newCompressedColumnStore(relation *catalog.Relation, desc *TupleStoreDescription, newBlock bool, memory []byte) (*compressedColumnStore, error) {
	if desc.Kind != CompressedColumnStore || !compressedDescriptionIsValid(relation, desc) {
		return nil, fmt.Errorf("%w: compressed column store", ErrInvalidLayout)
	}
	if len(memory) < compressedHeaderFixedSize {
		return nil, fmt.Errorf("%w: compressed column store needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, compressedHeaderFixedSize, len(memory))
	}
	s := &compressedColumnStore{
		compressedStoreBase: compressedStoreBase{relation: relation, desc: desc, memory: memory},
		sortAttr:            desc.SortAttributeID,
	}
	if newBlock {
		s.setNumTuples(0)
		s.builder = newCompressedBlockBuilder(relation, desc, len(memory), true)
	} else if s.numTuples() != 0 {
		if err := s.initialize(); err != nil {
			return nil, err
		}
	} else {
		s.builder = newCompressedBlockBuilder(relation, desc, len(memory), true)
	}
	return s, nil
}

// initialize parses compression metadata and lays out the code stripes over
// the remaining region.
func (s *compressedColumnStore) initialize() error {
	if err := s.initializeCommon(); err != nil {
		return err
	}
	stride := s.info.tupleLength()
	s.maxNumTuples = (len(s.memory) - s.dataOffset) / stride
	s.stripeOffsets = make([]int, s.relation.NumAttributes())
	offset := s.dataOffset
	for _, attr := range s.relation.Attributes() {
		s.stripeOffsets[attr.ID()] = offset
		offset += s.maxNumTuples * s.info.widths[attr.ID()]
	}
	return nil
}

func (s *compressedColumnStore) attributeBytes(tid TupleID, attr catalog.AttributeID) []byte {
	w := s.info.widths[attr]
	base := s.stripeOffsets[attr] + int(tid)*w
	return s.memory[base : base+w]
}

func (s *compressedColumnStore) codeAt(tid TupleID, attr catalog.AttributeID) uint32 {
	return readCode(s.attributeBytes(tid, attr), s.info.widths[attr])
}

func (s *compressedColumnStore) Kind() TupleStoreKind { return CompressedColumnStore }

func (s *compressedColumnStore) SupportsUntypedGet(attr catalog.AttributeID) bool {
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

func (s *compressedColumnStore) SupportsAdHocInsert() bool { return false }

func (s *compressedColumnStore) AdHocInsertIsEfficient() bool { return false }

func (s *compressedColumnStore) IsEmpty() bool {
	if s.builder != nil {
		return s.builder.numTuples() == 0 && s.numTuples() == 0
	}
	return s.numTuples() == 0
}

func (s *compressedColumnStore) IsPacked() bool { return true }

func (s *compressedColumnStore) MaxTupleID() TupleID { return TupleID(s.numTuples()) - 1 }

func (s *compressedColumnStore) NumTuples() int { return s.numTuples() }

func (s *compressedColumnStore) HasTuple(tid TupleID) bool {
	return tid >= 0 && int(tid) < s.numTuples()
}

func (s *compressedColumnStore) Insert(*types.Tuple, types.ConversionPolicy) InsertResult {
	return InsertResult{InsertedID: InvalidTupleID}
}

func (s *compressedColumnStore) InsertInBatch(tuple *types.Tuple, policy types.ConversionPolicy) bool {
	s.ensureBuilder()
	return s.builder.addTuple(tuple, policy)
}

func (s *compressedColumnStore) ensureBuilder() {
	if s.builder != nil {
		return
	}
	builder := newCompressedBlockBuilder(s.relation, s.desc, len(s.memory), true)
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

func (s *compressedColumnStore) AttributeValueBytes(tid TupleID, attr catalog.AttributeID) []byte {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: compressed column store has no tuple %d", tid))
	}
	if !s.SupportsUntypedGet(attr) {
		panic(fmt.Sprintf("storage: untyped get of compressed attribute %d", attr))
	}
	return s.attributeBytes(tid, attr)
}

func (s *compressedColumnStore) AttributeValue(tid TupleID, attr catalog.AttributeID) types.Value {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: compressed column store has no tuple %d", tid))
	}
	if s.info.isCompressed(attr) {
		return s.typedValueFromCode(attr, s.codeAt(tid, attr))
	}
	return types.ValueFromBytes(s.relation.Attribute(attr).Type(), s.attributeBytes(tid, attr))
}

// shiftTuples moves numTuples tuples from srcTuple to destPosition in every
// stripe.
func (s *compressedColumnStore) shiftTuples(destPosition, srcTuple, numTuples int) {
	for _, attr := range s.relation.Attributes() {
		w := s.info.widths[attr.ID()]
		base := s.stripeOffsets[attr.ID()]
		copy(s.memory[base+destPosition*w:base+(destPosition+numTuples)*w],
			s.memory[base+srcTuple*w:base+(srcTuple+numTuples)*w])
	}
}

func (s *compressedColumnStore) Delete(tid TupleID) bool {
	if !s.HasTuple(tid) {
		panic(fmt.Sprintf("storage: compressed column store has no tuple %d", tid))
	}
	n := s.numTuples()
	if int(tid) == n-1 {
		s.setNumTuples(n - 1)
		return false
	}
	s.shiftTuples(int(tid), int(tid)+1, n-int(tid)-1)
	s.setNumTuples(n - 1)
	return true
}

// sortColumnCodeRange binary-searches the sort attribute's code stripe for
// the tuple band holding codes in [loCode, hiCode). A hiCode of
// noCodeUpperBound extends the band to the end of the store.
func (s *compressedColumnStore) sortColumnCodeRange(loCode, hiCode uint32) (int, int) {
	n := s.numTuples()
	lo := 0
	if loCode != 0 {
		lo = sort.Search(n, func(i int) bool {
			return s.codeAt(TupleID(i), s.sortAttr) >= loCode
		})
	}
	hi := n
	if hiCode != noCodeUpperBound {
		hi = sort.Search(n, func(i int) bool {
			return s.codeAt(TupleID(i), s.sortAttr) >= hiCode
		})
	}
	return lo, hi
}

// equalCodeRange widens a single-code band's upper limit to the sentinel
// when no stored code can exceed it, avoiding the second binary search.
func (s *compressedColumnStore) equalCodeRange(code uint32) (uint32, uint32) {
	lo, hi := code, code+1
	if s.info.dictionaryCoded[s.sortAttr] {
		if int(hi) == s.info.dictionaries[s.sortAttr].NumCodes() {
			hi = noCodeUpperBound
		}
	} else if uint64(lo) == maxTruncatedValue(s.info.widths[s.sortAttr]) {
		hi = noCodeUpperBound
	}
	return lo, hi
}

func (s *compressedColumnStore) Matches(predicate *expr.Predicate) *TupleIDSequence {
	if predicate == nil {
		matches := NewTupleIDSequence()
		matches.AppendRange(0, TupleID(s.numTuples()))
		return matches
	}
	if s.info == nil {
		return matchesLinear(s, predicate)
	}

	plan := s.translatePredicate(predicate)
	if plan.kind == codePlanNone {
		// The sort attribute may be stored uncompressed; binary search on
		// raw values still applies before falling back to a linear scan.
		if !s.info.isCompressed(s.sortAttr) {
			sortType := s.relation.Attribute(s.sortAttr).Type()
			if matches, ok := evaluateSortColumnPredicate(predicate, s.sortAttr, s.numTuples(), func(i int) types.Value {
				return types.ValueFromBytes(sortType, s.attributeBytes(TupleID(i), s.sortAttr))
			}); ok {
				return matches
			}
		}
		return matchesLinear(s, predicate)
	}

	if plan.attr != s.sortAttr {
		return scanCodes(plan, s.numTuples(), func(tid TupleID) uint32 {
			return s.codeAt(tid, plan.attr)
		})
	}

	// Fast paths: binary search the sorted code stripe.
	matches := NewTupleIDSequence()
	switch plan.kind {
	case codePlanEmpty:
	case codePlanAll:
		matches.AppendRange(0, TupleID(s.numTuples()))
	case codePlanEqual:
		lo, hi := s.equalCodeRange(plan.code)
		tlo, thi := s.sortColumnCodeRange(lo, hi)
		matches.AppendRange(TupleID(tlo), TupleID(thi))
	case codePlanNotEqual:
		lo, hi := s.equalCodeRange(plan.code)
		tlo, thi := s.sortColumnCodeRange(lo, hi)
		matches.AppendRange(0, TupleID(tlo))
		matches.AppendRange(TupleID(thi), TupleID(s.numTuples()))
	case codePlanRange:
		tlo, thi := s.sortColumnCodeRange(plan.lo, plan.hi)
		matches.AppendRange(TupleID(tlo), TupleID(thi))
	}
	return matches
}

func (s *compressedColumnStore) Rebuild() {
	if s.builder == nil {
		return
	}
	s.builder.build(s.memory)
	s.builder = nil
	if err := s.initialize(); err != nil {
		panic(fmt.Sprintf("storage: rebuild produced an unreadable compressed column store: %v", err))
	}
}

func (s *compressedColumnStore) IsCompressed() bool { return true }
