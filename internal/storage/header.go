package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
	"google.golang.org/protobuf/encoding/protowire"
)

// blockHeaderLengthPrefixSize is the fixed little-endian length prefix that
// precedes the encoded header at the start of every block.
const blockHeaderLengthPrefixSize = 4

// Field numbers of the header encoding. The encoding is protobuf wire
// format, hand-assembled so the header stays self-describing: fields are
// tag-numbered and length-prefixed, and unknown fields are skipped on
// decode, so fields can be added without invalidating older blocks.
const (
	headerFieldLayout          = 1
	headerFieldTupleStoreSize  = 2
	headerFieldIndexSize       = 3
	headerFieldIndexConsistent = 4
	headerFieldBloomFilterSize = 5

	layoutFieldTupleStore  = 1
	layoutFieldIndex       = 2
	layoutFieldNumSlots    = 3
	layoutFieldBloomFilter = 4

	tupleStoreFieldKind           = 1
	tupleStoreFieldSortAttribute  = 2
	tupleStoreFieldCompressedAttr = 3

	indexFieldKind        = 1
	indexFieldIndexedAttr = 2

	bloomFieldKind      = 1
	bloomFieldAttribute = 2
)

// BlockHeader is the serialisable state at the front of every block: the
// immutable layout description, the byte size of each sub-block region, and
// one consistency flag per index.
type BlockHeader struct {
	Layout          LayoutDescription
	TupleStoreSize  uint64
	IndexSizes      []uint64
	IndexConsistent []bool
	BloomFilterSize uint64
}

// EncodedSize returns the byte length of Encode's output. Because booleans
// and the sizes established at finalisation encode at fixed width for a
// given layout, flipping consistency flags never changes the size.
func (h *BlockHeader) EncodedSize() int {
	return len(h.Encode(nil))
}

// Encode appends the wire encoding of the header to b.
func (h *BlockHeader) Encode(b []byte) []byte {
	layout := encodeLayoutDescription(nil, &h.Layout)
	b = protowire.AppendTag(b, headerFieldLayout, protowire.BytesType)
	b = protowire.AppendBytes(b, layout)
	b = protowire.AppendTag(b, headerFieldTupleStoreSize, protowire.VarintType)
	b = appendFixedWidthVarint(b, h.TupleStoreSize)
	for _, size := range h.IndexSizes {
		b = protowire.AppendTag(b, headerFieldIndexSize, protowire.VarintType)
		b = appendFixedWidthVarint(b, size)
	}
	for _, consistent := range h.IndexConsistent {
		b = protowire.AppendTag(b, headerFieldIndexConsistent, protowire.VarintType)
		b = protowire.AppendVarint(b, boolToUint(consistent))
	}
	if h.Layout.BloomFilter != nil {
		b = protowire.AppendTag(b, headerFieldBloomFilterSize, protowire.VarintType)
		b = appendFixedWidthVarint(b, h.BloomFilterSize)
	}
	return b
}

// appendFixedWidthVarint encodes v as a 10-byte varint with continuation
// padding, so updating a size in place never changes the header length.
func appendFixedWidthVarint(b []byte, v uint64) []byte {
	for i := 0; i < 9; i++ {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func boolToUint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func encodeLayoutDescription(b []byte, desc *LayoutDescription) []byte {
	ts := encodeTupleStoreDescription(nil, &desc.TupleStore)
	b = protowire.AppendTag(b, layoutFieldTupleStore, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	for i := range desc.Indexes {
		idx := encodeIndexDescription(nil, &desc.Indexes[i])
		b = protowire.AppendTag(b, layoutFieldIndex, protowire.BytesType)
		b = protowire.AppendBytes(b, idx)
	}
	b = protowire.AppendTag(b, layoutFieldNumSlots, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(desc.NumSlots))
	if desc.BloomFilter != nil {
		bf := encodeBloomFilterDescription(nil, desc.BloomFilter)
		b = protowire.AppendTag(b, layoutFieldBloomFilter, protowire.BytesType)
		b = protowire.AppendBytes(b, bf)
	}
	return b
}

func encodeTupleStoreDescription(b []byte, desc *TupleStoreDescription) []byte {
	b = protowire.AppendTag(b, tupleStoreFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(desc.Kind))
	switch desc.Kind {
	case BasicColumnStore, CompressedColumnStore:
		b = protowire.AppendTag(b, tupleStoreFieldSortAttribute, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(desc.SortAttributeID))
	}
	for _, attr := range desc.CompressedAttributeIDs {
		b = protowire.AppendTag(b, tupleStoreFieldCompressedAttr, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(attr))
	}
	return b
}

func encodeIndexDescription(b []byte, desc *IndexDescription) []byte {
	b = protowire.AppendTag(b, indexFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(desc.Kind))
	b = protowire.AppendTag(b, indexFieldIndexedAttr, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(desc.IndexedAttributeID))
	return b
}

func encodeBloomFilterDescription(b []byte, desc *BloomFilterDescription) []byte {
	b = protowire.AppendTag(b, bloomFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(desc.Kind))
	b = protowire.AppendTag(b, bloomFieldAttribute, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(desc.AttributeID))
	return b
}

// DecodeBlockHeader parses a header payload produced by Encode. Unknown
// fields are skipped.
func DecodeBlockHeader(b []byte) (*BlockHeader, error) {
	h := &BlockHeader{}
	sawLayout := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad header tag", ErrMalformedBlock)
		}
		b = b[n:]
		switch num {
		case headerFieldLayout:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad layout field", ErrMalformedBlock)
			}
			b = b[n:]
			layout, err := decodeLayoutDescription(payload)
			if err != nil {
				return nil, err
			}
			h.Layout = *layout
			sawLayout = true
		case headerFieldTupleStoreSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad tuple store size", ErrMalformedBlock)
			}
			b = b[n:]
			h.TupleStoreSize = v
		case headerFieldIndexSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad index size", ErrMalformedBlock)
			}
			b = b[n:]
			h.IndexSizes = append(h.IndexSizes, v)
		case headerFieldIndexConsistent:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad index consistency flag", ErrMalformedBlock)
			}
			b = b[n:]
			h.IndexConsistent = append(h.IndexConsistent, v != 0)
		case headerFieldBloomFilterSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad bloom filter size", ErrMalformedBlock)
			}
			b = b[n:]
			h.BloomFilterSize = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad header field %d", ErrMalformedBlock, num)
			}
			b = b[n:]
		}
	}
	if !sawLayout {
		return nil, fmt.Errorf("%w: header has no layout", ErrMalformedBlock)
	}
	return h, nil
}

func decodeLayoutDescription(b []byte) (*LayoutDescription, error) {
	desc := &LayoutDescription{}
	sawTupleStore := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad layout tag", ErrMalformedBlock)
		}
		b = b[n:]
		switch num {
		case layoutFieldTupleStore:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad tuple store description", ErrMalformedBlock)
			}
			b = b[n:]
			ts, err := decodeTupleStoreDescription(payload)
			if err != nil {
				return nil, err
			}
			desc.TupleStore = *ts
			sawTupleStore = true
		case layoutFieldIndex:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad index description", ErrMalformedBlock)
			}
			b = b[n:]
			idx, err := decodeIndexDescription(payload)
			if err != nil {
				return nil, err
			}
			desc.Indexes = append(desc.Indexes, *idx)
		case layoutFieldNumSlots:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad num slots", ErrMalformedBlock)
			}
			b = b[n:]
			desc.NumSlots = int(v)
		case layoutFieldBloomFilter:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad bloom filter description", ErrMalformedBlock)
			}
			b = b[n:]
			bf, err := decodeBloomFilterDescription(payload)
			if err != nil {
				return nil, err
			}
			desc.BloomFilter = bf
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad layout field %d", ErrMalformedBlock, num)
			}
			b = b[n:]
		}
	}
	if !sawTupleStore {
		return nil, fmt.Errorf("%w: layout has no tuple store", ErrMalformedBlock)
	}
	return desc, nil
}

func decodeTupleStoreDescription(b []byte) (*TupleStoreDescription, error) {
	desc := &TupleStoreDescription{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tuple store tag", ErrMalformedBlock)
		}
		b = b[n:]
		switch num {
		case tupleStoreFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad tuple store kind", ErrMalformedBlock)
			}
			b = b[n:]
			desc.Kind = TupleStoreKind(v)
		case tupleStoreFieldSortAttribute:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad sort attribute", ErrMalformedBlock)
			}
			b = b[n:]
			desc.SortAttributeID = catalog.AttributeID(v)
		case tupleStoreFieldCompressedAttr:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad compressed attribute", ErrMalformedBlock)
			}
			b = b[n:]
			desc.CompressedAttributeIDs = append(desc.CompressedAttributeIDs, catalog.AttributeID(v))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad tuple store field %d", ErrMalformedBlock, num)
			}
			b = b[n:]
		}
	}
	return desc, nil
}

func decodeIndexDescription(b []byte) (*IndexDescription, error) {
	desc := &IndexDescription{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad index tag", ErrMalformedBlock)
		}
		b = b[n:]
		switch num {
		case indexFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad index kind", ErrMalformedBlock)
			}
			b = b[n:]
			desc.Kind = IndexKind(v)
		case indexFieldIndexedAttr:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad indexed attribute", ErrMalformedBlock)
			}
			b = b[n:]
			desc.IndexedAttributeID = catalog.AttributeID(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad index field %d", ErrMalformedBlock, num)
			}
			b = b[n:]
		}
	}
	return desc, nil
}

func decodeBloomFilterDescription(b []byte) (*BloomFilterDescription, error) {
	desc := &BloomFilterDescription{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad bloom filter tag", ErrMalformedBlock)
		}
		b = b[n:]
		switch num {
		case bloomFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad bloom filter kind", ErrMalformedBlock)
			}
			b = b[n:]
			desc.Kind = BloomFilterKind(v)
		case bloomFieldAttribute:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad bloom filter attribute", ErrMalformedBlock)
			}
			b = b[n:]
			desc.AttributeID = catalog.AttributeID(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad bloom filter field %d", ErrMalformedBlock, num)
			}
			b = b[n:]
		}
	}
	return desc, nil
}

// writeHeaderPrefix serialises the header into the front of block memory:
// 4-byte little-endian length, then the encoded payload.
func writeHeaderPrefix(memory []byte, h *BlockHeader) error {
	payload := h.Encode(nil)
	if blockHeaderLengthPrefixSize+len(payload) > len(memory) {
		return fmt.Errorf("%w: %d header bytes in %d byte region",
			ErrBlockMemoryTooSmall, blockHeaderLengthPrefixSize+len(payload), len(memory))
	}
	binary.LittleEndian.PutUint32(memory, uint32(len(payload)))
	copy(memory[blockHeaderLengthPrefixSize:], payload)
	return nil
}

// readHeaderPrefix parses the length prefix and header payload from block
// memory, returning the header and the offset where sub-block regions begin.
func readHeaderPrefix(memory []byte) (*BlockHeader, int, error) {
	if len(memory) < blockHeaderLengthPrefixSize {
		return nil, 0, fmt.Errorf("%w: no room for header length", ErrMalformedBlock)
	}
	payloadLen := int(binary.LittleEndian.Uint32(memory))
	if payloadLen <= 0 || blockHeaderLengthPrefixSize+payloadLen > len(memory) {
		return nil, 0, fmt.Errorf("%w: header length %d out of range", ErrMalformedBlock, payloadLen)
	}
	h, err := DecodeBlockHeader(memory[blockHeaderLengthPrefixSize : blockHeaderLengthPrefixSize+payloadLen])
	if err != nil {
		return nil, 0, err
	}
	return h, blockHeaderLengthPrefixSize + payloadLen, nil
}
