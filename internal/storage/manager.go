package storage

import (
	"fmt"
	"sync"

	"github.com/fenilsonani/stratab/internal/catalog"
	"go.uber.org/zap"
)

type blockHandle struct {
	slotIndexLow  int
	slotIndexHigh int
	block         *Block
}

// BlockManager creates and resolves storage blocks on top of a slab
// allocator. Block ids increase monotonically and are never reused.
//
// The id map is guarded by a shared lock: scan workers resolve blocks
// concurrently while a selection's insert destination creates result blocks
// through the same manager. Access to a resolved block stays single-writer.
type BlockManager struct {
	mu        sync.RWMutex
	allocator *SlabAllocator
	blocks    map[BlockID]blockHandle
	nextID    BlockID
	logger    *zap.Logger
}

// NewBlockManager creates a manager over the given allocator.
func NewBlockManager(allocator *SlabAllocator, logger *zap.Logger) *BlockManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockManager{
		allocator: allocator,
		blocks:    make(map[BlockID]blockHandle),
		nextID:    1,
		logger:    logger,
	}
}

// CreateBlock allocates a slot run for a new block of the given finalised
// layout and constructs the block over it.
func (m *BlockManager) CreateBlock(relation *catalog.Relation, layout *Layout) (BlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	numSlots := layout.Description().NumSlots
	slotIndex := m.allocator.Acquire(numSlots)
	memory := m.allocator.RunBytes(slotIndex, numSlots)

	id := m.nextID
	block, err := NewBlock(relation, id, layout, memory)
	if err != nil {
		m.allocator.Release(slotIndex, numSlots)
		return 0, fmt.Errorf("creating block %d: %w", id, err)
	}
	m.nextID++
	m.blocks[id] = blockHandle{
		slotIndexLow:  slotIndex,
		slotIndexHigh: slotIndex + numSlots,
		block:         block,
	}
	m.logger.Debug("created block",
		zap.Uint64("block_id", id),
		zap.String("relation", relation.Name()),
		zap.Int("slots", numSlots))
	return id, nil
}

// IsLoaded reports whether a block with the given id exists.
func (m *BlockManager) IsLoaded(id BlockID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[id]
	return ok
}

// Get resolves a block id. Resolving an unknown id is a programmer error.
func (m *BlockManager) Get(id BlockID) *Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.blocks[id]
	if !ok {
		panic(fmt.Sprintf("storage: Get of unknown block id %d", id))
	}
	return handle.block
}

// Evict destroys a block and returns its slots to the allocator. Evicting an
// unknown id is a programmer error.
func (m *BlockManager) Evict(id BlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.blocks[id]
	if !ok {
		panic(fmt.Sprintf("storage: Evict of unknown block id %d", id))
	}
	m.allocator.Release(handle.slotIndexLow, handle.slotIndexHigh-handle.slotIndexLow)
	delete(m.blocks, id)
	m.logger.Debug("evicted block", zap.Uint64("block_id", id))
}

// NumBlocks returns the number of live blocks.
func (m *BlockManager) NumBlocks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
