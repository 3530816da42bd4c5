package storage

import (
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
)

// TupleStoreKind identifies a tuple-store sub-block implementation.
type TupleStoreKind int

const (
	// PackedRowStore stores fixed-length tuples back to back.
	PackedRowStore TupleStoreKind = iota
	// BasicColumnStore stores one stripe per attribute, kept sorted on a
	// designated sort attribute.
	BasicColumnStore
	// CompressedPackedRowStore is a row store over dictionary-coded or
	// truncated attribute codes.
	CompressedPackedRowStore
	// CompressedColumnStore is a sort-ordered column store over compressed
	// attribute codes.
	CompressedColumnStore
)

// String names the tuple-store kind.
func (k TupleStoreKind) String() string {
	switch k {
	case PackedRowStore:
		return "packed_row_store"
	case BasicColumnStore:
		return "basic_column_store"
	case CompressedPackedRowStore:
		return "compressed_packed_row_store"
	case CompressedColumnStore:
		return "compressed_column_store"
	default:
		return fmt.Sprintf("TupleStoreKind(%d)", int(k))
	}
}

// IndexKind identifies an index sub-block implementation.
type IndexKind int

// CSBTreeIndexKind is the cache-sensitive B+-tree style ordered index.
const CSBTreeIndexKind IndexKind = 0

// BloomFilterKind identifies a bloom-filter sub-block implementation.
type BloomFilterKind int

// DefaultBloomFilterKind is the built-in bloom filter over attribute values.
const DefaultBloomFilterKind BloomFilterKind = 0

// TupleStoreDescription names a tuple-store kind plus its kind-specific
// parameters.
type TupleStoreDescription struct {
	Kind TupleStoreKind

	// SortAttributeID designates the sort column for the column-store
	// kinds. Ignored by row stores.
	SortAttributeID catalog.AttributeID

	// CompressedAttributeIDs lists the attributes the compressed kinds
	// attempt to compress. Ignored by uncompressed kinds.
	CompressedAttributeIDs []catalog.AttributeID
}

// IndexDescription names an index kind and the attribute it indexes.
type IndexDescription struct {
	Kind               IndexKind
	IndexedAttributeID catalog.AttributeID
}

// BloomFilterDescription names a bloom-filter kind and the attribute the
// filter summarises.
type BloomFilterDescription struct {
	Kind        BloomFilterKind
	AttributeID catalog.AttributeID
}

// LayoutDescription is the serialisable description of a block layout:
// exactly one tuple store, zero or more indexes, an optional bloom filter,
// and the block's slot count.
type LayoutDescription struct {
	TupleStore  TupleStoreDescription
	Indexes     []IndexDescription
	BloomFilter *BloomFilterDescription
	NumSlots    int
}

// DescriptionIsValid checks a layout description against a relation:
// a sane slot count and per-kind validity of every sub-block.
func DescriptionIsValid(relation *catalog.Relation, desc *LayoutDescription) bool {
	if desc.NumSlots < 1 || desc.NumSlots > ChunkSizeSlots {
		return false
	}
	switch desc.TupleStore.Kind {
	case PackedRowStore:
		if !rowStoreDescriptionIsValid(relation, &desc.TupleStore) {
			return false
		}
	case BasicColumnStore:
		if !columnStoreDescriptionIsValid(relation, &desc.TupleStore) {
			return false
		}
	case CompressedPackedRowStore, CompressedColumnStore:
		if !compressedDescriptionIsValid(relation, &desc.TupleStore) {
			return false
		}
	default:
		return false
	}
	for i := range desc.Indexes {
		if desc.Indexes[i].Kind != CSBTreeIndexKind {
			return false
		}
		if !csbTreeDescriptionIsValid(relation, &desc.Indexes[i]) {
			return false
		}
	}
	if desc.BloomFilter != nil {
		if desc.BloomFilter.Kind != DefaultBloomFilterKind {
			return false
		}
		if !relation.HasAttribute(desc.BloomFilter.AttributeID) {
			return false
		}
	}
	return true
}

// estimateBytesPerTuple delegates to the kind-specific per-tuple byte
// estimator used to apportion block space.
func estimateBytesPerTuple(relation *catalog.Relation, desc *TupleStoreDescription) int {
	switch desc.Kind {
	case PackedRowStore:
		return rowStoreEstimateBytesPerTuple(relation)
	case BasicColumnStore:
		return columnStoreEstimateBytesPerTuple(relation)
	case CompressedPackedRowStore, CompressedColumnStore:
		return compressedEstimateBytesPerTuple(relation, desc)
	default:
		panic(fmt.Sprintf("storage: unknown TupleStoreKind %d", int(desc.Kind)))
	}
}

// Layout pairs a validated description with the finalised block header
// template used to initialise new blocks.
type Layout struct {
	relation *catalog.Relation
	desc     LayoutDescription
	header   BlockHeader
}

// NewLayout builds an unfinalised layout for a relation.
func NewLayout(relation *catalog.Relation, desc LayoutDescription) *Layout {
	return &Layout{relation: relation, desc: desc}
}

// DefaultLayout returns a finalised single-slot packed-row-store layout.
func DefaultLayout(relation *catalog.Relation) (*Layout, error) {
	return DefaultLayoutWithSlots(relation, 1)
}

// DefaultLayoutWithSlots returns a finalised packed-row-store layout of the
// given slot count, as used for temporary result relations.
func DefaultLayoutWithSlots(relation *catalog.Relation, numSlots int) (*Layout, error) {
	layout := NewLayout(relation, LayoutDescription{
		TupleStore: TupleStoreDescription{Kind: PackedRowStore},
		NumSlots:   numSlots,
	})
	if err := layout.Finalize(); err != nil {
		return nil, err
	}
	return layout, nil
}

// Description returns the layout description.
func (l *Layout) Description() *LayoutDescription { return &l.desc }

// Relation returns the relation the layout was built for.
func (l *Layout) Relation() *catalog.Relation { return l.relation }

// Header returns the finalised header template. Finalize must have
// succeeded.
func (l *Layout) Header() *BlockHeader { return &l.header }

// Finalize validates the description and apportions block space across
// sub-blocks in proportion to their per-tuple byte estimates. Integer
// division remainders accrue to the tuple store.
func (l *Layout) Finalize() error {
	if !DescriptionIsValid(l.relation, &l.desc) {
		return ErrInvalidLayout
	}

	l.header = BlockHeader{
		Layout:          l.desc,
		IndexSizes:      make([]uint64, len(l.desc.Indexes)),
		IndexConsistent: make([]bool, len(l.desc.Indexes)),
	}
	for i := range l.header.IndexConsistent {
		l.header.IndexConsistent[i] = true
	}

	blockSize := l.desc.NumSlots * SlotSizeBytes
	headerSize := l.header.EncodedSize() + blockHeaderLengthPrefixSize
	if headerSize > blockSize {
		return fmt.Errorf("%w: %d header bytes in a %d byte block", ErrBlockMemoryTooSmall, headerSize, blockSize)
	}

	tupleStoreFactor := estimateBytesPerTuple(l.relation, &l.desc.TupleStore)
	totalFactor := tupleStoreFactor
	indexFactors := make([]int, len(l.desc.Indexes))
	for i := range l.desc.Indexes {
		indexFactors[i] = csbTreeEstimateBytesPerTuple(l.relation, &l.desc.Indexes[i])
		totalFactor += indexFactors[i]
	}
	bloomFactor := 0
	if l.desc.BloomFilter != nil {
		bloomFactor = bloomFilterEstimateBytesPerTuple()
		totalFactor += bloomFactor
	}

	subBlockSpace := blockSize - headerSize
	allocated := 0
	for i := range indexFactors {
		size := subBlockSpace * indexFactors[i] / totalFactor
		l.header.IndexSizes[i] = uint64(size)
		allocated += size
	}
	if l.desc.BloomFilter != nil {
		size := subBlockSpace * bloomFactor / totalFactor
		l.header.BloomFilterSize = uint64(size)
		allocated += size
	}
	l.header.TupleStoreSize = uint64(subBlockSpace - allocated)
	return nil
}
