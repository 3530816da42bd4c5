package storage

import (
	"encoding/binary"
	"fmt"
	"hash"

	bloomfilter "github.com/holiman/bloomfilter/v2"
	"github.com/spaolacci/murmur3"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// bloomFilterHeaderSize is the filter region header: a little-endian uint32
// length of the serialised filter that follows (0 when no filter has been
// built).
const bloomFilterHeaderSize = 4

// bloomFilterHashesPerValue is the number of hash functions used by the
// per-block filter.
const bloomFilterHashesPerValue = 4

// bloomFilterFramingBytes is reserved for the serialised filter's fixed
// framing (parameters, hash keys and checksum) on top of the bit array.
const bloomFilterFramingBytes = 512

// bloomFilterSubBlock summarises one attribute's values in a bloom filter
// sized to its region. Rebuild repopulates the filter from every live
// tuple; equality probes on the attribute answer "definitely absent" or
// "maybe present".
type bloomFilterSubBlock struct {
	store    TupleStore
	relation *catalog.Relation
	attr     catalog.AttributeID
	memory   []byte

	filter *bloomfilter.Filter
}

func bloomFilterEstimateBytesPerTuple() int {
	// Roughly ten bits per tuple buys a low false-positive rate.
	return 2
}

func newBloomFilterSubBlock(store TupleStore, relation *catalog.Relation, desc *BloomFilterDescription, newBlock bool, memory []byte) (*bloomFilterSubBlock, error) {
	if !relation.HasAttribute(desc.AttributeID) {
		return nil, fmt.Errorf("%w: bloom filter", ErrInvalidLayout)
	}
	if len(memory) < bloomFilterHeaderSize+bloomFilterFramingBytes {
		return nil, fmt.Errorf("%w: bloom filter needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, bloomFilterHeaderSize+bloomFilterFramingBytes, len(memory))
	}
	b := &bloomFilterSubBlock{
		store:    store,
		relation: relation,
		attr:     desc.AttributeID,
		memory:   memory,
	}
	if newBlock {
		binary.LittleEndian.PutUint32(memory, 0)
		return b, nil
	}
	serialisedLen := int(binary.LittleEndian.Uint32(memory))
	if serialisedLen == 0 {
		return b, nil
	}
	if bloomFilterHeaderSize+serialisedLen > len(memory) {
		return nil, fmt.Errorf("%w: bloom filter overruns region", ErrMalformedBlock)
	}
	filter := &bloomfilter.Filter{}
	if err := filter.UnmarshalBinary(memory[bloomFilterHeaderSize : bloomFilterHeaderSize+serialisedLen]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	b.filter = filter
	return b, nil
}

// AttributeID returns the attribute the filter summarises.
func (b *bloomFilterSubBlock) AttributeID() catalog.AttributeID { return b.attr }

// numBits sizes the filter to leave room for the serialised form's fixed
// framing within the region.
func (b *bloomFilterSubBlock) numBits() uint64 {
	return uint64(len(b.memory)-bloomFilterHeaderSize-bloomFilterFramingBytes) * 8
}

func (b *bloomFilterSubBlock) hash(valueBytes []byte) hash.Hash64 {
	h := murmur3.New64()
	h.Write(valueBytes)
	return h
}

// AddValue folds one freshly inserted value into the live filter. The
// persisted image is marked unbuilt so a reopened block answers
// conservatively until the next rebuild.
func (b *bloomFilterSubBlock) AddValue(v types.Value) {
	if b.filter == nil {
		return
	}
	b.filter.Add(b.hash(v.Bytes()))
	binary.LittleEndian.PutUint32(b.memory, 0)
}

// Invalidate drops the filter entirely; probes answer "maybe" until the
// next rebuild.
func (b *bloomFilterSubBlock) Invalidate() {
	b.filter = nil
	binary.LittleEndian.PutUint32(b.memory, 0)
}

// Rebuild repopulates the filter from every live tuple and persists it into
// the region. Returns false when the serialised filter cannot fit.
func (b *bloomFilterSubBlock) Rebuild() bool {
	filter, err := bloomfilter.New(b.numBits(), bloomFilterHashesPerValue)
	if err != nil {
		return false
	}
	for tid := TupleID(0); tid <= b.store.MaxTupleID(); tid++ {
		if !b.store.HasTuple(tid) {
			continue
		}
		filter.Add(b.hash(b.store.AttributeValue(tid, b.attr).Bytes()))
	}
	serialised, err := filter.MarshalBinary()
	if err != nil || bloomFilterHeaderSize+len(serialised) > len(b.memory) {
		return false
	}
	binary.LittleEndian.PutUint32(b.memory, uint32(len(serialised)))
	copy(b.memory[bloomFilterHeaderSize:], serialised)
	b.filter = filter
	return true
}

// MightMatch reports whether any tuple might satisfy the predicate,
// according to the filter. Only equality probes on the summarised attribute
// are conclusive; everything else conservatively answers true. An unbuilt
// filter also answers true.
func (b *bloomFilterSubBlock) MightMatch(predicate *expr.Predicate) bool {
	if b.filter == nil {
		return true
	}
	attr, op, literal, ok := predicate.AttributeLiteralComparison()
	if !ok || attr.ID() != b.attr || op != expr.Equal {
		return true
	}
	attrType := b.relation.Attribute(b.attr).Type()
	if !literal.Type().Equals(attrType) {
		return true
	}
	return b.filter.Contains(b.hash(literal.Bytes()))
}
