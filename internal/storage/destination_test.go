package storage

import (
	"testing"

	"github.com/fenilsonani/stratab/internal/types"
)

func newTestManagerAndLayout(t *testing.T) (*BlockManager, *Layout) {
	t.Helper()
	relation := intRelation(2)
	layout := finalizedLayout(t, relation, LayoutDescription{
		TupleStore: TupleStoreDescription{Kind: PackedRowStore},
		NumSlots:   1,
	})
	return NewBlockManager(NewSlabAllocator(false), nil), layout
}

func TestAlwaysCreateDestination(t *testing.T) {
	manager, layout := newTestManagerAndLayout(t)
	destination := NewAlwaysCreateBlockInsertDestination(manager, layout.Relation(), layout)

	first, err := destination.GetBlockForInsertion()
	if err != nil {
		t.Fatalf("GetBlockForInsertion() error = %v", err)
	}
	second, err := destination.GetBlockForInsertion()
	if err != nil {
		t.Fatalf("GetBlockForInsertion() error = %v", err)
	}
	if first.ID() == second.ID() {
		t.Error("always-new destination reused a block")
	}

	destination.ReturnBlock(first, false)
	destination.ReturnBlock(second, true)
	if got := len(destination.TouchedBlocks()); got != 2 {
		t.Errorf("TouchedBlocks() = %d ids, want 2", got)
	}
}

func TestBlockPoolDestinationRecycles(t *testing.T) {
	manager, layout := newTestManagerAndLayout(t)
	destination := NewBlockPoolInsertDestination(manager, layout.Relation(), layout)

	block, err := destination.GetBlockForInsertion()
	if err != nil {
		t.Fatalf("GetBlockForInsertion() error = %v", err)
	}
	id := block.ID()
	destination.ReturnBlock(block, false)

	// A not-full block comes back out of the pool.
	again, err := destination.GetBlockForInsertion()
	if err != nil {
		t.Fatalf("GetBlockForInsertion() error = %v", err)
	}
	if again.ID() != id {
		t.Errorf("pool handed out block %d, want recycled %d", again.ID(), id)
	}

	// A full block does not.
	destination.ReturnBlock(again, true)
	fresh, err := destination.GetBlockForInsertion()
	if err != nil {
		t.Fatalf("GetBlockForInsertion() error = %v", err)
	}
	if fresh.ID() == id {
		t.Error("pool handed out a block returned as full")
	}
	destination.ReturnBlock(fresh, false)

	touched := destination.TouchedBlocks()
	if len(touched) != 2 {
		t.Errorf("TouchedBlocks() = %v, want both blocks", touched)
	}
}

func TestBlockPoolSeededFromRelation(t *testing.T) {
	manager, layout := newTestManagerAndLayout(t)
	relation := layout.Relation()

	id, err := manager.CreateBlock(relation, layout)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	relation.AddBlock(id)
	if err := manager.Get(id).InsertTuple(intTuple(1, 2), types.ConvertNone); err != nil {
		t.Fatalf("InsertTuple() error = %v", err)
	}

	destination := NewBlockPoolInsertDestination(manager, relation, layout)
	destination.AddAllBlocksFromRelation()

	block, err := destination.GetBlockForInsertion()
	if err != nil {
		t.Fatalf("GetBlockForInsertion() error = %v", err)
	}
	if block.ID() != id {
		t.Errorf("seeded pool handed out %d, want existing block %d", block.ID(), id)
	}
	if block.TupleStore().NumTuples() != 1 {
		t.Errorf("seeded block lost its tuple")
	}
}

func TestBlockManagerEvictReleasesSlots(t *testing.T) {
	allocator := NewSlabAllocator(false)
	manager := NewBlockManager(allocator, nil)
	relation := intRelation(1)
	layout := finalizedLayout(t, relation, LayoutDescription{
		TupleStore: TupleStoreDescription{Kind: PackedRowStore},
		NumSlots:   4,
	})

	first, err := manager.CreateBlock(relation, layout)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	manager.Evict(first)
	if manager.IsLoaded(first) {
		t.Error("evicted block still loaded")
	}

	// The freed slots are reused, but the id is not.
	second, err := manager.CreateBlock(relation, layout)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	if second == first {
		t.Error("block id reused after evict")
	}
	if allocator.NumChunks() != 1 {
		t.Errorf("NumChunks() = %d, want 1 (slots reused)", allocator.NumChunks())
	}
}
