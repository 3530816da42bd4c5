package storage

import "fmt"

// SlabAllocator owns an ordered sequence of chunks, each ChunkSizeSlots
// slots of SlotSizeBytes bytes, and hands out contiguous slot runs by
// first-fit over a free bitmap. Runs never cross chunk boundaries. Chunk
// memory is retained until the allocator itself is garbage.
//
// The allocator is not thread-safe; bulk load and scans access it from a
// single goroutine.
type SlabAllocator struct {
	chunks     [][]byte
	freeBitmap []bool
	zeroMemory bool
}

// NewSlabAllocator creates an allocator with no chunks. If zeroMemory is
// set, acquired slot runs are zero-filled before being handed out.
func NewSlabAllocator(zeroMemory bool) *SlabAllocator {
	return &SlabAllocator{zeroMemory: zeroMemory}
}

// Acquire reserves numSlots contiguous slots within a single chunk and
// returns the index of the first slot. Requesting more than ChunkSizeSlots
// is a programmer error.
func (a *SlabAllocator) Acquire(numSlots int) int {
	if numSlots < 1 || numSlots > ChunkSizeSlots {
		panic(fmt.Sprintf("storage: Acquire(%d) outside [1, %d]", numSlots, ChunkSizeSlots))
	}

	minSlot, found := a.findRun(numSlots)
	if !found {
		a.growChunk()
		minSlot = (len(a.chunks) - 1) * ChunkSizeSlots
	}

	for i := minSlot; i < minSlot+numSlots; i++ {
		a.freeBitmap[i] = false
	}
	if a.zeroMemory {
		run := a.RunBytes(minSlot, numSlots)
		for i := range run {
			run[i] = 0
		}
	}
	return minSlot
}

// findRun scans chunks in order for the lowest free run of numSlots slots
// that does not straddle a chunk boundary.
func (a *SlabAllocator) findRun(numSlots int) (int, bool) {
	for chunkNum := 0; chunkNum < len(a.chunks); chunkNum++ {
		base := chunkNum * ChunkSizeSlots
		for i := 0; i+numSlots <= ChunkSizeSlots; i++ {
			ok := true
			for j := 0; j < numSlots; j++ {
				if !a.freeBitmap[base+i+j] {
					ok = false
					// Restarting after the occupied slot keeps the
					// scan linear in the chunk size.
					i += j
					break
				}
			}
			if ok {
				return base + i, true
			}
		}
	}
	return 0, false
}

// Release returns a slot run to the free pool. The chunk memory is not
// reclaimed.
func (a *SlabAllocator) Release(minSlot, numSlots int) {
	for i := minSlot; i < minSlot+numSlots; i++ {
		if a.freeBitmap[i] {
			panic(fmt.Sprintf("storage: Release of free slot %d", i))
		}
		a.freeBitmap[i] = true
	}
}

// RunBytes returns the contiguous memory for a slot run. The run must lie
// within one chunk, as guaranteed by Acquire.
func (a *SlabAllocator) RunBytes(minSlot, numSlots int) []byte {
	chunkNum := minSlot / ChunkSizeSlots
	if (minSlot+numSlots-1)/ChunkSizeSlots != chunkNum {
		panic(fmt.Sprintf("storage: slot run [%d,%d) crosses a chunk boundary", minSlot, minSlot+numSlots))
	}
	offset := (minSlot % ChunkSizeSlots) * SlotSizeBytes
	return a.chunks[chunkNum][offset : offset+numSlots*SlotSizeBytes]
}

// NumChunks returns the number of chunks currently allocated.
func (a *SlabAllocator) NumChunks() int { return len(a.chunks) }

func (a *SlabAllocator) growChunk() {
	a.chunks = append(a.chunks, make([]byte, ChunkSizeSlots*SlotSizeBytes))
	grown := make([]bool, len(a.chunks)*ChunkSizeSlots)
	copy(grown, a.freeBitmap)
	for i := len(a.freeBitmap); i < len(grown); i++ {
		grown[i] = true
	}
	a.freeBitmap = grown
}
