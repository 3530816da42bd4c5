// Package storage implements the block storage engine: a slab allocator
// handing out 1 MiB slots, self-describing blocks composed of a tuple-store
// sub-block plus optional index and bloom-filter sub-blocks, four tuple-store
// layouts (row and sort-ordered column, each with a compressed variant),
// and the insert-destination policies used by parallel scans.
package storage

const (
	// SlotSizeBytes is the size of one allocation slot. Every block occupies
	// a contiguous run of slots.
	SlotSizeBytes = 1 << 20

	// ChunkSizeSlots is the number of slots in one allocator chunk. Slot
	// runs never cross a chunk boundary, so it is also the maximum number
	// of slots in a single block.
	ChunkSizeSlots = 256
)

// TupleID addresses a tuple within a tuple-store sub-block. IDs are dense
// from 0; InvalidTupleID means "none".
type TupleID = int32

// InvalidTupleID is the tuple id of an empty store's maximum tuple, and the
// id returned by a failed insert.
const InvalidTupleID TupleID = -1

// BlockID globally identifies a block. IDs are assigned by the block manager
// in increasing order and never reused within a process lifetime.
type BlockID = uint64
