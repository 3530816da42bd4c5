package catalog

import (
	"testing"

	"github.com/fenilsonani/stratab/internal/types"
)

func TestRelationAttributes(t *testing.T) {
	relation := NewRelation("orders")
	a := relation.AddAttribute("id", types.Long())
	b := relation.AddAttribute("qty", types.Int())
	c := relation.AddAttribute("code", types.Char(12))

	if a.ID() != 0 || b.ID() != 1 || c.ID() != 2 {
		t.Errorf("attribute ids = %d, %d, %d; want dense from 0", a.ID(), b.ID(), c.ID())
	}
	if relation.NumAttributes() != 3 {
		t.Errorf("NumAttributes() = %d, want 3", relation.NumAttributes())
	}
	if relation.FixedByteLength() != 8+4+12 {
		t.Errorf("FixedByteLength() = %d, want 24", relation.FixedByteLength())
	}

	tests := []struct {
		attr   AttributeID
		offset int
	}{
		{0, 0},
		{1, 8},
		{2, 12},
	}
	for _, tt := range tests {
		if got := relation.FixedLengthOffset(tt.attr); got != tt.offset {
			t.Errorf("FixedLengthOffset(%d) = %d, want %d", tt.attr, got, tt.offset)
		}
	}

	if relation.HasAttribute(3) {
		t.Error("HasAttribute(3) = true for a 3-attribute relation")
	}
	if relation.HasNullableAttributes() {
		t.Error("HasNullableAttributes() = true without nullable attributes")
	}
	if relation.IsVariableLength() {
		t.Error("IsVariableLength() = true for fixed-length types")
	}
}

func TestRelationBlockTracking(t *testing.T) {
	relation := NewRelation("r")
	relation.AddBlock(10)
	relation.AddBlock(11)
	relation.AddBlock(12)
	relation.RemoveBlock(11)

	ids := relation.BlockIDs()
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 12 {
		t.Errorf("BlockIDs() = %v, want [10 12]", ids)
	}

	// The snapshot is independent of later mutation.
	relation.AddBlock(13)
	if len(ids) != 2 {
		t.Error("BlockIDs() snapshot changed under mutation")
	}
}

func TestAttributeLookupPanicsOnUnknown(t *testing.T) {
	relation := NewRelation("r")
	relation.AddAttribute("only", types.Int())
	defer func() {
		if recover() == nil {
			t.Error("Attribute(5) should panic")
		}
	}()
	relation.Attribute(5)
}
