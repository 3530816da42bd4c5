package storage

import (
	"sync"

	"github.com/fenilsonani/stratab/internal/catalog"
)

// InsertDestination yields blocks for scan workers to write projected
// results into. The block returned by GetBlockForInsertion is owned by the
// caller until it is handed back with ReturnBlock. Implementations are
// thread-safe; workers share one destination per scan.
type InsertDestination interface {
	// GetBlockForInsertion returns a block open for insertion, creating one
	// when necessary.
	GetBlockForInsertion() (*Block, error)

	// ReturnBlock hands a block back, with full indicating it has no more
	// room.
	ReturnBlock(block *Block, full bool)

	// TouchedBlocks returns the ids of the blocks handed back through
	// ReturnBlock; a pooled destination also lists the blocks still waiting
	// in its pool. A block that is checked out and not yet returned is not
	// listed.
	TouchedBlocks() []BlockID
}

// destinationBase carries the shared machinery: the manager and layout used
// to create blocks and the relation that adopts them.
type destinationBase struct {
	manager  *BlockManager
	relation *catalog.Relation
	layout   *Layout
}

func (d *destinationBase) createNewBlock() (*Block, error) {
	id, err := d.manager.CreateBlock(d.relation, d.layout)
	if err != nil {
		return nil, err
	}
	d.relation.AddBlock(id)
	return d.manager.Get(id), nil
}

// AlwaysCreateBlockInsertDestination hands out a freshly created block for
// every request and simply records the ids handed back.
type AlwaysCreateBlockInsertDestination struct {
	destinationBase

	mu       sync.Mutex
	returned []BlockID
}

// NewAlwaysCreateBlockInsertDestination builds the always-new policy.
func NewAlwaysCreateBlockInsertDestination(manager *BlockManager, relation *catalog.Relation, layout *Layout) *AlwaysCreateBlockInsertDestination {
	return &AlwaysCreateBlockInsertDestination{
		destinationBase: destinationBase{manager: manager, relation: relation, layout: layout},
	}
}

// GetBlockForInsertion always creates a fresh block.
func (d *AlwaysCreateBlockInsertDestination) GetBlockForInsertion() (*Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createNewBlock()
}

// ReturnBlock records the block's id.
func (d *AlwaysCreateBlockInsertDestination) ReturnBlock(block *Block, full bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.returned = append(d.returned, block.ID())
}

// TouchedBlocks returns every returned block id.
func (d *AlwaysCreateBlockInsertDestination) TouchedBlocks() []BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BlockID, len(d.returned))
	copy(out, d.returned)
	return out
}

// BlockPoolInsertDestination recycles partially filled blocks: not-full
// blocks go back into an available pool, full ones into a done list.
type BlockPoolInsertDestination struct {
	destinationBase

	mu        sync.Mutex
	available []BlockID
	done      []BlockID
}

// NewBlockPoolInsertDestination builds the pooled policy.
func NewBlockPoolInsertDestination(manager *BlockManager, relation *catalog.Relation, layout *Layout) *BlockPoolInsertDestination {
	return &BlockPoolInsertDestination{
		destinationBase: destinationBase{manager: manager, relation: relation, layout: layout},
	}
}

// AddAllBlocksFromRelation seeds the pool with every existing block of the
// relation. Must run before the first GetBlockForInsertion.
func (d *BlockPoolInsertDestination) AddAllBlocksFromRelation() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.available) != 0 {
		panic("storage: seeding a non-empty block pool")
	}
	d.available = append(d.available, d.relation.BlockIDs()...)
}

// GetBlockForInsertion pops an available block or creates a new one.
func (d *BlockPoolInsertDestination) GetBlockForInsertion() (*Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.available) == 0 {
		return d.createNewBlock()
	}
	id := d.available[len(d.available)-1]
	d.available = d.available[:len(d.available)-1]
	return d.manager.Get(id), nil
}

// ReturnBlock files the block as done when full, otherwise returns it to
// the available pool.
func (d *BlockPoolInsertDestination) ReturnBlock(block *Block, full bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if full {
		d.done = append(d.done, block.ID())
	} else {
		d.available = append(d.available, block.ID())
	}
}

// TouchedBlocks returns done and still-available block ids.
func (d *BlockPoolInsertDestination) TouchedBlocks() []BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BlockID, 0, len(d.done)+len(d.available))
	out = append(out, d.done...)
	out = append(out, d.available...)
	return out
}
