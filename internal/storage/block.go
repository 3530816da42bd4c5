package storage

import (
	"errors"
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// Block composes a header, one tuple store, zero or more indexes and an
// optional bloom filter over a single contiguous memory region. The block
// mediates inserts and scans, keeping the per-index consistency flags in the
// header truthful. A block is mutated by at most one goroutine at a time.
type Block struct {
	relation *catalog.Relation
	id       BlockID
	memory   []byte
	header   *BlockHeader

	tupleStore TupleStore
	indexes    []Index
	bloom      *bloomFilterSubBlock

	allIndexesConsistent   bool
	allIndexesInconsistent bool
	adHocInsertSupported   bool
	adHocInsertEfficient   bool
	dirty                  bool
}

// NewBlock initialises a fresh block over memory from a finalised layout:
// the header is copied into the region prefix and every sub-block is
// instantiated new over its assigned sub-region, in declaration order.
func NewBlock(relation *catalog.Relation, id BlockID, layout *Layout, memory []byte) (*Block, error) {
	if err := writeHeaderPrefix(memory, layout.Header()); err != nil {
		return nil, err
	}
	header, offset, err := readHeaderPrefix(memory)
	if err != nil {
		return nil, fmt.Errorf("freshly written header failed to parse: %w", err)
	}
	return assembleBlock(relation, id, memory, header, offset, true)
}

// ReopenBlock reconstructs a block from an existing memory image, validating
// the header against the relation and the region size. Any inconsistency
// rejects the block as malformed.
func ReopenBlock(relation *catalog.Relation, id BlockID, memory []byte) (*Block, error) {
	header, offset, err := readHeaderPrefix(memory)
	if err != nil {
		return nil, err
	}
	if !DescriptionIsValid(relation, &header.Layout) {
		return nil, fmt.Errorf("%w: layout invalid for relation %q", ErrMalformedBlock, relation.Name())
	}
	if len(header.IndexSizes) != len(header.Layout.Indexes) ||
		len(header.IndexConsistent) != len(header.Layout.Indexes) {
		return nil, fmt.Errorf("%w: index metadata arity mismatch", ErrMalformedBlock)
	}
	recorded := uint64(offset) + header.TupleStoreSize + header.BloomFilterSize
	for _, size := range header.IndexSizes {
		recorded += size
	}
	if recorded > uint64(len(memory)) {
		return nil, fmt.Errorf("%w: recorded sub-block sizes (%d) exceed region (%d)",
			ErrMalformedBlock, recorded, len(memory))
	}
	return assembleBlock(relation, id, memory, header, offset, false)
}

func assembleBlock(relation *catalog.Relation, id BlockID, memory []byte, header *BlockHeader, offset int, newBlock bool) (*Block, error) {
	b := &Block{
		relation:             relation,
		id:                   id,
		memory:               memory,
		header:               header,
		allIndexesConsistent: true,
		dirty:                newBlock,
	}

	tupleStore, err := NewTupleStore(relation, &header.Layout.TupleStore, newBlock,
		memory[offset:offset+int(header.TupleStoreSize)])
	if err != nil {
		return nil, err
	}
	b.tupleStore = tupleStore
	offset += int(header.TupleStoreSize)
	b.adHocInsertSupported = tupleStore.SupportsAdHocInsert()
	b.adHocInsertEfficient = tupleStore.AdHocInsertIsEfficient()

	if len(header.Layout.Indexes) > 0 {
		b.allIndexesInconsistent = true
	}
	for i := range header.Layout.Indexes {
		size := int(header.IndexSizes[i])
		index, err := newCSBTreeIndex(tupleStore, relation, &header.Layout.Indexes[i], newBlock,
			memory[offset:offset+size])
		if err != nil {
			return nil, err
		}
		b.indexes = append(b.indexes, index)
		offset += size
		if !index.SupportsAdHocAdd() {
			b.adHocInsertEfficient = false
		}
		if header.IndexConsistent[i] {
			b.allIndexesInconsistent = false
		} else {
			b.allIndexesConsistent = false
		}
	}

	if header.Layout.BloomFilter != nil {
		size := int(header.BloomFilterSize)
		bloom, err := newBloomFilterSubBlock(tupleStore, relation, header.Layout.BloomFilter, newBlock,
			memory[offset:offset+size])
		if err != nil {
			return nil, err
		}
		b.bloom = bloom
	}
	return b, nil
}

// ID returns the block's identifier.
func (b *Block) ID() BlockID { return b.id }

// Relation returns the relation the block stores tuples of.
func (b *Block) Relation() *catalog.Relation { return b.relation }

// TupleStore returns the block's tuple-storage sub-block.
func (b *Block) TupleStore() TupleStore { return b.tupleStore }

// NumIndexes returns the number of index sub-blocks.
func (b *Block) NumIndexes() int { return len(b.indexes) }

// Index returns the i-th index sub-block.
func (b *Block) Index(i int) Index { return b.indexes[i] }

// IndexIsConsistent reports whether the i-th index reflects every live
// tuple.
func (b *Block) IndexIsConsistent(i int) bool { return b.header.IndexConsistent[i] }

// AllIndexesConsistent reports the AND of the per-index consistency flags.
func (b *Block) AllIndexesConsistent() bool { return b.allIndexesConsistent }

// AdHocInsertSupported reports whether InsertTuple can succeed on this
// block.
func (b *Block) AdHocInsertSupported() bool { return b.adHocInsertSupported }

// AdHocInsertEfficient reports whether single-tuple inserts are
// constant-cost for the tuple store and every index.
func (b *Block) AdHocInsertEfficient() bool { return b.adHocInsertEfficient }

// IsDirty reports whether the block has been mutated since construction.
func (b *Block) IsDirty() bool { return b.dirty }

// InsertTuple adds one tuple through the ad-hoc path, keeping every index
// consistent or rolling the insertion back.
func (b *Block) InsertTuple(tuple *types.Tuple, policy types.ConversionPolicy) error {
	if !b.adHocInsertSupported {
		return ErrBlockFull
	}

	emptyBefore := b.tupleStore.IsEmpty()
	result := b.tupleStore.Insert(tuple, policy)
	if result.InsertedID < 0 {
		if emptyBefore {
			return fmt.Errorf("%w: %d bytes", ErrTupleTooLarge, tuple.ByteSize())
		}
		return ErrBlockFull
	}

	updateSucceeded := true
	if result.IDsMutated {
		updateSucceeded = b.rebuildIndexes(true)
		if !updateSucceeded {
			b.tupleStore.Delete(result.InsertedID)
			if !b.rebuildIndexes(true) {
				// An index must always be able to hold the tuples it held
				// before the insert.
				panic("storage: rebuilding an index failed after removing the inserted tuple")
			}
		}
	} else {
		updateSucceeded = b.insertEntryInIndexes(result.InsertedID)
	}

	if !updateSucceeded {
		if emptyBefore {
			return fmt.Errorf("%w: %d bytes", ErrTupleTooLarge, tuple.ByteSize())
		}
		return ErrBlockFull
	}
	if b.bloom != nil {
		// The filter tracks values, not ids, so a renumbering insert still
		// only needs the new value folded in.
		b.bloom.AddValue(b.tupleStore.AttributeValue(result.InsertedID, b.bloom.AttributeID()))
	}
	b.dirty = true
	return nil
}

// insertEntryInIndexes adds the new tuple to every index in declaration
// order, undoing everything on a failed add so the block state is as before
// the insert.
func (b *Block) insertEntryInIndexes(newTuple TupleID) bool {
	for i, index := range b.indexes {
		var entryAdded bool
		if index.SupportsAdHocAdd() {
			entryAdded = index.Add(newTuple)
		} else {
			entryAdded = index.Rebuild()
		}
		if entryAdded {
			continue
		}

		// Roll back the indexes mutated so far. Those without ad-hoc
		// removal get rebuilt after the tuple is deleted from the store.
		rebuildSome := false
		for j := 0; j < i; j++ {
			if b.indexes[j].SupportsAdHocRemove() {
				b.indexes[j].Remove(newTuple)
			} else {
				rebuildSome = true
			}
		}

		if b.tupleStore.Delete(newTuple) {
			// The id sequence mutated; every index needs a rebuild.
			if !b.rebuildIndexes(true) {
				panic("storage: rebuilding an index failed after removing the inserted tuple")
			}
		} else if rebuildSome {
			for j := 0; j < i; j++ {
				if !b.indexes[j].SupportsAdHocRemove() {
					if !b.indexes[j].Rebuild() {
						panic("storage: rebuilding an index failed after removing the inserted tuple")
					}
				}
			}
		}
		return false
	}
	return true
}

// InsertTupleInBatch appends a tuple through the tuple store's batch path
// and marks every index inconsistent; Rebuild restores them when the batch
// is done.
func (b *Block) InsertTupleInBatch(tuple *types.Tuple, policy types.ConversionPolicy) error {
	if b.tupleStore.InsertInBatch(tuple, policy) {
		b.invalidateAllIndexes()
		if b.bloom != nil {
			b.bloom.Invalidate()
		}
		b.dirty = true
		return nil
	}
	if b.tupleStore.IsEmpty() {
		return fmt.Errorf("%w: %d bytes", ErrTupleTooLarge, tuple.ByteSize())
	}
	return ErrBlockFull
}

// Rebuild re-packs the tuple store and then rebuilds every index and the
// bloom filter, updating the consistency flags. It returns
// ErrIndexesInconsistent when any index region could not hold its entries.
func (b *Block) Rebuild() error {
	b.tupleStore.Rebuild()
	b.dirty = true
	ok := b.rebuildIndexes(false)
	if b.bloom != nil {
		// A filter that cannot fit its region stays unbuilt and answers
		// conservatively.
		b.bloom.Rebuild()
	}
	if !ok {
		return ErrIndexesInconsistent
	}
	return nil
}

// rebuildIndexes rebuilds every index, updating the header flags. With
// shortCircuit set it stops at the first failure.
func (b *Block) rebuildIndexes(shortCircuit bool) bool {
	if len(b.indexes) == 0 {
		return true
	}
	b.allIndexesConsistent = true
	b.allIndexesInconsistent = true
	for i, index := range b.indexes {
		if index.Rebuild() {
			b.allIndexesInconsistent = false
			b.header.IndexConsistent[i] = true
		} else {
			b.allIndexesConsistent = false
			b.header.IndexConsistent[i] = false
			if shortCircuit {
				b.updateHeader()
				return false
			}
		}
	}
	b.updateHeader()
	return b.allIndexesConsistent
}

func (b *Block) invalidateAllIndexes() {
	if len(b.indexes) == 0 || b.allIndexesInconsistent {
		return
	}
	for i := range b.indexes {
		b.header.IndexConsistent[i] = false
	}
	b.allIndexesConsistent = false
	b.allIndexesInconsistent = true
	b.updateHeader()
}

// updateHeader re-serialises the header into the region prefix. Headers
// encode at a fixed size for a given layout, so the rewrite is in place.
func (b *Block) updateHeader() {
	if err := writeHeaderPrefix(b.memory, b.header); err != nil {
		panic(fmt.Sprintf("storage: header grew past its reserved prefix: %v", err))
	}
}

// Matches evaluates a predicate over the block via the tuple store,
// consulting the bloom filter first when one is present.
func (b *Block) Matches(predicate *expr.Predicate) *TupleIDSequence {
	if predicate != nil && b.bloom != nil && !b.bloom.MightMatch(predicate) {
		return NewTupleIDSequence()
	}
	return b.tupleStore.Matches(predicate)
}

// MatchesWithIndex evaluates a predicate through the i-th index. Superset
// results are filtered by re-evaluating the predicate tuple by tuple.
// Consulting an inconsistent index is a programmer error.
func (b *Block) MatchesWithIndex(i int, predicate *expr.Predicate) *TupleIDSequence {
	if !b.header.IndexConsistent[i] {
		panic(fmt.Sprintf("storage: probe of inconsistent index %d on block %d", i, b.id))
	}
	result := b.indexes[i].Matches(predicate)
	if !result.IsSuperset {
		return result.Sequence
	}
	filtered := NewTupleIDSequence()
	for _, tid := range result.Sequence.IDs() {
		if predicate.Matches(func(attr catalog.AttributeID) types.Value {
			return b.tupleStore.AttributeValue(tid, attr)
		}) {
			filtered.Append(tid)
		}
	}
	return filtered
}

// projectTuple builds the projected tuple for one match.
func (b *Block) projectTuple(tid TupleID, projection []catalog.AttributeID) *types.Tuple {
	tuple := types.NewTuple()
	for _, attr := range projection {
		tuple.Append(b.tupleStore.AttributeValue(tid, attr))
	}
	return tuple
}

// SelectSimple projects the named attributes of every tuple matching the
// predicate into blocks drawn from the destination, rolling to a fresh
// block whenever the current one fills. The boolean result reports whether
// every result-block rebuild succeeded; false surfaces as a non-fatal
// "result blocks had inconsistent indexes" status.
func (b *Block) SelectSimple(projection []catalog.AttributeID, predicate *expr.Predicate, destination InsertDestination) (bool, error) {
	matches := b.Matches(predicate)
	return b.projectMatches(matches, projection, destination)
}

// SelectSimpleWithMatches projects a precomputed match set, letting callers
// evaluate the predicate through an index first.
func (b *Block) SelectSimpleWithMatches(matches *TupleIDSequence, projection []catalog.AttributeID, destination InsertDestination) (bool, error) {
	return b.projectMatches(matches, projection, destination)
}

func (b *Block) projectMatches(matches *TupleIDSequence, projection []catalog.AttributeID, destination InsertDestination) (bool, error) {
	if matches.Size() == 0 {
		return true, nil
	}
	allRebuildsSucceeded := true
	resultBlock, err := destination.GetBlockForInsertion()
	if err != nil {
		return false, err
	}
	for _, tid := range matches.IDs() {
		tuple := b.projectTuple(tid, projection)
		for {
			insertErr := resultBlock.InsertTupleInBatch(tuple, types.ConvertNone)
			if insertErr == nil {
				break
			}
			if errors.Is(insertErr, ErrTupleTooLarge) {
				destination.ReturnBlock(resultBlock, false)
				return allRebuildsSucceeded, insertErr
			}
			if rebuildErr := resultBlock.Rebuild(); rebuildErr != nil {
				allRebuildsSucceeded = false
			}
			destination.ReturnBlock(resultBlock, true)
			if resultBlock, err = destination.GetBlockForInsertion(); err != nil {
				return allRebuildsSucceeded, err
			}
		}
	}
	if rebuildErr := resultBlock.Rebuild(); rebuildErr != nil {
		allRebuildsSucceeded = false
		destination.ReturnBlock(resultBlock, true)
	} else {
		destination.ReturnBlock(resultBlock, false)
	}
	return allRebuildsSucceeded, nil
}
