package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
	"github.com/google/btree"
)

// IndexSearchResult is the outcome of an index probe. When IsSuperset is
// set the sequence may contain false positives and the caller re-evaluates
// the predicate tuple by tuple.
type IndexSearchResult struct {
	Sequence   *TupleIDSequence
	IsSuperset bool
}

// Index is the contract of an index sub-block. An index owns a disjoint
// region of its block and maps predicate probes to tuple-id sets.
type Index interface {
	// SupportsAdHocAdd reports whether Add can be used outside Rebuild.
	SupportsAdHocAdd() bool

	// SupportsAdHocRemove reports whether Remove can be used outside
	// Rebuild.
	SupportsAdHocRemove() bool

	// Add inserts an entry for the tuple. Returns false when the region is
	// full.
	Add(tid TupleID) bool

	// Remove drops the entry for the tuple.
	Remove(tid TupleID)

	// Matches probes the index with a predicate.
	Matches(predicate *expr.Predicate) IndexSearchResult

	// Rebuild repopulates the index from every live tuple in the store.
	// Returns false when the region cannot hold them all; the index is then
	// inconsistent.
	Rebuild() bool
}

// csbTreeIndexHeaderSize is the index region header: a little-endian int32
// entry counter.
const csbTreeIndexHeaderSize = 4

// csbTreeIndex is an ordered index over one attribute: fixed-width entries
// of (order-preserving key, tuple id) kept sorted by key in the region, so
// probes are binary searches. The key encoding makes bytes.Compare agree
// with the attribute's value order.
type csbTreeIndex struct {
	store    TupleStore
	relation *catalog.Relation
	attr     catalog.AttributeID
	memory   []byte

	keyWidth  int
	entrySize int
	capacity  int
}

func csbTreeDescriptionIsValid(relation *catalog.Relation, desc *IndexDescription) bool {
	if !relation.HasAttribute(desc.IndexedAttributeID) {
		return false
	}
	return relation.Attribute(desc.IndexedAttributeID).Type().IsOrderable()
}

func csbTreeEstimateBytesPerTuple(relation *catalog.Relation, desc *IndexDescription) int {
	return relation.Attribute(desc.IndexedAttributeID).Type().MaxByteLength() + 4
}

// NewCSBTreeIndex builds a csb-tree index over its own memory region for a
// tuple store that lives outside any block, as the flat experiment layouts
// do. Block construction uses the same implementation internally.
func NewCSBTreeIndex(store TupleStore, relation *catalog.Relation, desc *IndexDescription, newBlock bool, memory []byte) (Index, error) {
	return newCSBTreeIndex(store, relation, desc, newBlock, memory)
}

func newCSBTreeIndex(store TupleStore, relation *catalog.Relation, desc *IndexDescription, newBlock bool, memory []byte) (*csbTreeIndex, error) {
	if !csbTreeDescriptionIsValid(relation, desc) {
		return nil, fmt.Errorf("%w: csb-tree index", ErrInvalidLayout)
	}
	keyWidth := relation.Attribute(desc.IndexedAttributeID).Type().MaxByteLength()
	idx := &csbTreeIndex{
		store:     store,
		relation:  relation,
		attr:      desc.IndexedAttributeID,
		memory:    memory,
		keyWidth:  keyWidth,
		entrySize: keyWidth + 4,
	}
	if len(memory) < csbTreeIndexHeaderSize+idx.entrySize {
		return nil, fmt.Errorf("%w: csb-tree index needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, csbTreeIndexHeaderSize+idx.entrySize, len(memory))
	}
	idx.capacity = (len(memory) - csbTreeIndexHeaderSize) / idx.entrySize
	if newBlock {
		idx.setNumEntries(0)
	}
	return idx, nil
}

func (idx *csbTreeIndex) numEntries() int {
	return int(int32(binary.LittleEndian.Uint32(idx.memory)))
}

func (idx *csbTreeIndex) setNumEntries(n int) {
	binary.LittleEndian.PutUint32(idx.memory, uint32(int32(n)))
}

func (idx *csbTreeIndex) entryKey(i int) []byte {
	base := csbTreeIndexHeaderSize + i*idx.entrySize
	return idx.memory[base : base+idx.keyWidth]
}

func (idx *csbTreeIndex) entryTID(i int) TupleID {
	base := csbTreeIndexHeaderSize + i*idx.entrySize + idx.keyWidth
	return TupleID(binary.LittleEndian.Uint32(idx.memory[base:]))
}

func (idx *csbTreeIndex) writeEntry(i int, key []byte, tid TupleID) {
	base := csbTreeIndexHeaderSize + i*idx.entrySize
	copy(idx.memory[base:base+idx.keyWidth], key)
	binary.LittleEndian.PutUint32(idx.memory[base+idx.keyWidth:], uint32(tid))
}

func (idx *csbTreeIndex) keyOf(tid TupleID) []byte {
	return idx.store.AttributeValue(tid, idx.attr).OrderKey()
}

func (idx *csbTreeIndex) SupportsAdHocAdd() bool { return true }

func (idx *csbTreeIndex) SupportsAdHocRemove() bool { return true }

// Add inserts the tuple's entry at its sorted position.
func (idx *csbTreeIndex) Add(tid TupleID) bool {
	n := idx.numEntries()
	if n >= idx.capacity {
		return false
	}
	key := idx.keyOf(tid)
	p := sort.Search(n, func(i int) bool {
		return bytes.Compare(idx.entryKey(i), key) > 0
	})
	base := csbTreeIndexHeaderSize
	copy(idx.memory[base+(p+1)*idx.entrySize:base+(n+1)*idx.entrySize],
		idx.memory[base+p*idx.entrySize:base+n*idx.entrySize])
	idx.writeEntry(p, key, tid)
	idx.setNumEntries(n + 1)
	return true
}

// Remove drops the entry carrying tid, found by a linear scan over the
// entries.
func (idx *csbTreeIndex) Remove(tid TupleID) {
	n := idx.numEntries()
	for i := 0; i < n; i++ {
		if idx.entryTID(i) == tid {
			base := csbTreeIndexHeaderSize
			copy(idx.memory[base+i*idx.entrySize:base+(n-1)*idx.entrySize],
				idx.memory[base+(i+1)*idx.entrySize:base+n*idx.entrySize])
			idx.setNumEntries(n - 1)
			return
		}
	}
}

// keyBounds returns the entry band [lo, hi) whose keys equal the literal's
// key.
func (idx *csbTreeIndex) keyBounds(key []byte) (int, int) {
	n := idx.numEntries()
	lo := sort.Search(n, func(i int) bool {
		return bytes.Compare(idx.entryKey(i), key) >= 0
	})
	hi := sort.Search(n, func(i int) bool {
		return bytes.Compare(idx.entryKey(i), key) > 0
	})
	return lo, hi
}

// allEntries returns every indexed tuple id.
func (idx *csbTreeIndex) allEntries() *TupleIDSequence {
	seq := NewTupleIDSequence()
	for i := 0; i < idx.numEntries(); i++ {
		seq.Append(idx.entryTID(i))
	}
	return seq
}

// Matches answers comparison probes on the indexed attribute exactly via
// binary search on the sorted entries. Any other predicate shape yields
// every indexed id as a superset for the caller to filter. Entry bands are
// walked in key order; the returned sequence still iterates ids ascending.
func (idx *csbTreeIndex) Matches(predicate *expr.Predicate) IndexSearchResult {
	attr, op, literal, ok := predicate.AttributeLiteralComparison()
	if !ok || attr.ID() != idx.attr {
		return IndexSearchResult{Sequence: idx.allEntries(), IsSuperset: true}
	}

	attrType := idx.relation.Attribute(idx.attr).Type()
	if !literal.CoercibleTo(attrType, types.ConvertUnsafe) {
		return IndexSearchResult{Sequence: idx.allEntries(), IsSuperset: true}
	}
	coerced := literal.CoerceTo(attrType)
	key := coerced.OrderKey()
	// Coercion can move the literal onto a key it does not actually equal
	// (fractional or out-of-range numerics, over-long strings). The key
	// bounds then bracket the coerced value, not the literal, so only the
	// trivially decidable operators stay exact.
	if coerced.Compare(literal) != 0 {
		switch op {
		case expr.Equal:
			return IndexSearchResult{Sequence: NewTupleIDSequence()}
		case expr.NotEqual:
			return IndexSearchResult{Sequence: idx.allEntries()}
		default:
			return IndexSearchResult{Sequence: idx.allEntries(), IsSuperset: true}
		}
	}

	lo, hi := idx.keyBounds(key)
	n := idx.numEntries()

	collect := func(ranges ...[2]int) *TupleIDSequence {
		seq := NewTupleIDSequence()
		for _, r := range ranges {
			for i := r[0]; i < r[1]; i++ {
				seq.Append(idx.entryTID(i))
			}
		}
		return seq
	}

	switch op {
	case expr.Equal:
		return IndexSearchResult{Sequence: collect([2]int{lo, hi})}
	case expr.NotEqual:
		return IndexSearchResult{Sequence: collect([2]int{0, lo}, [2]int{hi, n})}
	case expr.Less:
		return IndexSearchResult{Sequence: collect([2]int{0, lo})}
	case expr.LessOrEqual:
		return IndexSearchResult{Sequence: collect([2]int{0, hi})}
	case expr.Greater:
		return IndexSearchResult{Sequence: collect([2]int{hi, n})}
	case expr.GreaterOrEqual:
		return IndexSearchResult{Sequence: collect([2]int{lo, n})}
	default:
		return IndexSearchResult{Sequence: idx.allEntries(), IsSuperset: true}
	}
}

type indexEntry struct {
	key []byte
	tid TupleID
}

// Rebuild repopulates the region from every live tuple, bulk-loading the
// entries through an in-memory btree so the region is written in one
// ordered pass.
func (idx *csbTreeIndex) Rebuild() bool {
	if idx.store.NumTuples() > idx.capacity {
		idx.setNumEntries(0)
		return false
	}

	tree := btree.NewG[indexEntry](16, func(a, b indexEntry) bool {
		if c := bytes.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		return a.tid < b.tid
	})
	for tid := TupleID(0); tid <= idx.store.MaxTupleID(); tid++ {
		if !idx.store.HasTuple(tid) {
			continue
		}
		tree.ReplaceOrInsert(indexEntry{key: idx.keyOf(tid), tid: tid})
	}

	i := 0
	tree.Ascend(func(e indexEntry) bool {
		idx.writeEntry(i, e.key, e.tid)
		i++
		return true
	})
	idx.setNumEntries(i)
	return true
}
