// Package stratab is the public face of the storage engine: an Engine owns
// a slab allocator and block manager, and exposes the block lifecycle and
// scan operations the experiment driver is built on.
package stratab

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/storage"
	"github.com/fenilsonani/stratab/internal/types"
)

// Engine bundles the slab allocator and block manager behind one handle.
// An engine is single-writer: loading happens from one goroutine, scans may
// then read blocks from many.
type Engine struct {
	allocator *storage.SlabAllocator
	manager   *storage.BlockManager
}

// New creates an engine with an empty allocator.
func New(logger *zap.Logger) *Engine {
	allocator := storage.NewSlabAllocator(false)
	return &Engine{
		allocator: allocator,
		manager:   storage.NewBlockManager(allocator, logger),
	}
}

// Manager exposes the engine's block manager.
func (e *Engine) Manager() *storage.BlockManager { return e.manager }

// CreateBlock creates a block of the given finalised layout and registers
// it with the relation.
func (e *Engine) CreateBlock(relation *catalog.Relation, layout *storage.Layout) (storage.BlockID, error) {
	id, err := e.manager.CreateBlock(relation, layout)
	if err != nil {
		return 0, err
	}
	relation.AddBlock(id)
	return id, nil
}

// EvictBlock destroys a block and unregisters it from the relation.
func (e *Engine) EvictBlock(relation *catalog.Relation, id storage.BlockID) {
	e.manager.Evict(id)
	relation.RemoveBlock(id)
}

// Load batch-inserts tuples into blocks of the relation, creating blocks as
// needed and rebuilding each as it fills. It returns the ids of every block
// written.
func (e *Engine) Load(relation *catalog.Relation, layout *storage.Layout, tuples []*types.Tuple) ([]storage.BlockID, error) {
	destination := storage.NewBlockPoolInsertDestination(e.manager, relation, layout)
	block, err := destination.GetBlockForInsertion()
	if err != nil {
		return nil, err
	}
	for i, tuple := range tuples {
		for {
			insertErr := block.InsertTupleInBatch(tuple, types.ConvertSafe)
			if insertErr == nil {
				break
			}
			if rebuildErr := block.Rebuild(); rebuildErr != nil {
				destination.ReturnBlock(block, true)
				return nil, fmt.Errorf("loading tuple %d: %w", i, rebuildErr)
			}
			destination.ReturnBlock(block, true)
			if block, err = destination.GetBlockForInsertion(); err != nil {
				return nil, err
			}
		}
	}
	if err := block.Rebuild(); err != nil {
		destination.ReturnBlock(block, true)
		return nil, err
	}
	destination.ReturnBlock(block, false)
	return destination.TouchedBlocks(), nil
}

// Scan evaluates a predicate over every block of the relation and returns
// the number of matches per block, keyed by block id.
func (e *Engine) Scan(relation *catalog.Relation, predicate *expr.Predicate) map[storage.BlockID]int {
	counts := make(map[storage.BlockID]int)
	for _, id := range relation.BlockIDs() {
		counts[id] = e.manager.Get(id).Matches(predicate).Size()
	}
	return counts
}
