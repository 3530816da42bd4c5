// Package catalog holds the schema metadata the storage engine reads:
// relations, their attributes and the block ids that currently hold their
// tuples. The catalog is the engine's schema oracle; once a relation has been
// handed to the storage layer its attribute set is immutable.
package catalog

import (
	"fmt"
	"sync"

	"github.com/fenilsonani/stratab/internal/types"
)

// AttributeID addresses an attribute within its relation. IDs are dense,
// starting from 0 in declaration order.
type AttributeID int32

// Attribute is a single column of a relation.
type Attribute struct {
	id   AttributeID
	name string
	typ  *types.Type
}

// ID returns the attribute's dense identifier.
func (a *Attribute) ID() AttributeID { return a.id }

// Name returns the attribute's name.
func (a *Attribute) Name() string { return a.name }

// Type returns the attribute's type.
func (a *Attribute) Type() *types.Type { return a.typ }

// Relation is an ordered sequence of attributes plus the set of storage
// blocks holding its tuples. Attribute layout queries are precomputed when
// attributes are added; block tracking is guarded by a mutex because scan
// destinations append result blocks from worker goroutines.
type Relation struct {
	name       string
	attributes []*Attribute

	fixedByteLength int
	offsets         []int

	mu     sync.Mutex
	blocks []uint64
}

// NewRelation creates an empty relation.
func NewRelation(name string) *Relation {
	return &Relation{name: name}
}

// Name returns the relation's name.
func (r *Relation) Name() string { return r.name }

// AddAttribute appends an attribute and returns it. The id assigned is the
// attribute's position.
func (r *Relation) AddAttribute(name string, typ *types.Type) *Attribute {
	attr := &Attribute{
		id:   AttributeID(len(r.attributes)),
		name: name,
		typ:  typ,
	}
	r.attributes = append(r.attributes, attr)
	r.offsets = append(r.offsets, r.fixedByteLength)
	r.fixedByteLength += typ.MaxByteLength()
	return attr
}

// NumAttributes returns the relation's arity.
func (r *Relation) NumAttributes() int { return len(r.attributes) }

// HasAttribute reports whether id addresses an attribute of this relation.
func (r *Relation) HasAttribute(id AttributeID) bool {
	return id >= 0 && int(id) < len(r.attributes)
}

// Attribute returns the attribute with the given id. Looking up a
// non-existent attribute is a programmer error.
func (r *Relation) Attribute(id AttributeID) *Attribute {
	if !r.HasAttribute(id) {
		panic(fmt.Sprintf("catalog: relation %q has no attribute %d", r.name, id))
	}
	return r.attributes[id]
}

// Attributes returns the attributes in id order. The slice must not be
// mutated.
func (r *Relation) Attributes() []*Attribute { return r.attributes }

// FixedByteLength returns the total byte length of one tuple with every
// attribute at its maximum length.
func (r *Relation) FixedByteLength() int { return r.fixedByteLength }

// FixedLengthOffset returns the byte offset of the attribute within a
// packed row representation.
func (r *Relation) FixedLengthOffset(id AttributeID) int {
	if !r.HasAttribute(id) {
		panic(fmt.Sprintf("catalog: relation %q has no attribute %d", r.name, id))
	}
	return r.offsets[id]
}

// EstimatedAverageByteLength returns the estimated average tuple length.
func (r *Relation) EstimatedAverageByteLength() int {
	total := 0
	for _, a := range r.attributes {
		total += a.typ.AverageByteLength()
	}
	return total
}

// IsVariableLength reports whether any attribute is variable-length.
func (r *Relation) IsVariableLength() bool {
	for _, a := range r.attributes {
		if a.typ.IsVariableLength() {
			return true
		}
	}
	return false
}

// HasNullableAttributes reports whether any attribute is nullable.
func (r *Relation) HasNullableAttributes() bool {
	for _, a := range r.attributes {
		if a.typ.IsNullable() {
			return true
		}
	}
	return false
}

// AddBlock records a storage block as belonging to this relation.
func (r *Relation) AddBlock(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, id)
}

// RemoveBlock forgets a storage block.
func (r *Relation) RemoveBlock(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.blocks {
		if b == id {
			r.blocks = append(r.blocks[:i], r.blocks[i+1:]...)
			return
		}
	}
}

// BlockIDs returns a snapshot of the relation's block ids in insertion order.
func (r *Relation) BlockIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.blocks))
	copy(out, r.blocks)
	return out
}
