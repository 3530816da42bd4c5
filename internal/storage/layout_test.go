package storage

import (
	"testing"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/types"
)

func TestLayoutDescriptionValidity(t *testing.T) {
	ints := intRelation(4)
	nullable := catalog.NewRelation("nullable")
	nullable.AddAttribute("maybe", types.Nullable(types.Int()))

	tests := []struct {
		name     string
		relation *catalog.Relation
		desc     LayoutDescription
		want     bool
	}{
		{
			name:     "valid row store",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{Kind: PackedRowStore},
				NumSlots:   1,
			},
			want: true,
		},
		{
			name:     "zero slots",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{Kind: PackedRowStore},
				NumSlots:   0,
			},
			want: false,
		},
		{
			name:     "too many slots",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{Kind: PackedRowStore},
				NumSlots:   ChunkSizeSlots + 1,
			},
			want: false,
		},
		{
			name:     "row store rejects nullable attributes",
			relation: nullable,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{Kind: PackedRowStore},
				NumSlots:   1,
			},
			want: false,
		},
		{
			name:     "column store needs a real sort attribute",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{Kind: BasicColumnStore, SortAttributeID: 9},
				NumSlots:   1,
			},
			want: false,
		},
		{
			name:     "compressed column store with sort attribute",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{
					Kind:                   CompressedColumnStore,
					SortAttributeID:        1,
					CompressedAttributeIDs: []catalog.AttributeID{0, 1, 2, 3},
				},
				NumSlots: 2,
			},
			want: true,
		},
		{
			name:     "compressed store rejects unknown compressed attribute",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{
					Kind:                   CompressedPackedRowStore,
					CompressedAttributeIDs: []catalog.AttributeID{17},
				},
				NumSlots: 1,
			},
			want: false,
		},
		{
			name:     "index on unknown attribute",
			relation: ints,
			desc: LayoutDescription{
				TupleStore: TupleStoreDescription{Kind: PackedRowStore},
				Indexes:    []IndexDescription{{Kind: CSBTreeIndexKind, IndexedAttributeID: 40}},
				NumSlots:   1,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescriptionIsValid(tt.relation, &tt.desc); got != tt.want {
				t.Errorf("DescriptionIsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayoutFinalizeApportionsSpace(t *testing.T) {
	relation := intRelation(4)
	layout := NewLayout(relation, LayoutDescription{
		TupleStore: TupleStoreDescription{Kind: PackedRowStore},
		Indexes:    []IndexDescription{{Kind: CSBTreeIndexKind, IndexedAttributeID: 0}},
		NumSlots:   2,
	})
	if err := layout.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	header := layout.Header()
	blockSize := 2 * SlotSizeBytes
	headerSize := header.EncodedSize() + blockHeaderLengthPrefixSize
	total := int(header.TupleStoreSize) + int(header.IndexSizes[0]) + headerSize
	if total != blockSize {
		t.Errorf("sizes sum to %d, want %d", total, blockSize)
	}

	// Row store estimates 16 bytes per tuple, the index 8; the split must
	// be proportional with the remainder on the tuple store.
	subBlockSpace := blockSize - headerSize
	wantIndex := subBlockSpace * 8 / 24
	if int(header.IndexSizes[0]) != wantIndex {
		t.Errorf("index size = %d, want %d", header.IndexSizes[0], wantIndex)
	}
	if !header.IndexConsistent[0] {
		t.Error("finalised layout must start with consistent indexes")
	}
}

func TestLayoutFinalizeRejectsInvalidDescription(t *testing.T) {
	relation := intRelation(2)
	layout := NewLayout(relation, LayoutDescription{
		TupleStore: TupleStoreDescription{Kind: BasicColumnStore, SortAttributeID: 5},
		NumSlots:   1,
	})
	if err := layout.Finalize(); err == nil {
		t.Error("Finalize() should reject an invalid description")
	}
}

func TestDefaultLayout(t *testing.T) {
	relation := intRelation(3)
	layout, err := DefaultLayout(relation)
	if err != nil {
		t.Fatalf("DefaultLayout() error = %v", err)
	}
	if layout.Description().TupleStore.Kind != PackedRowStore {
		t.Errorf("default kind = %v, want PackedRowStore", layout.Description().TupleStore.Kind)
	}
	if layout.Description().NumSlots != 1 {
		t.Errorf("default NumSlots = %d, want 1", layout.Description().NumSlots)
	}
}
