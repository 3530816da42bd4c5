package storage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// Compressed sub-block region layout, from the region start:
//
//	int32   num_tuples
//	uint32  length of the compression-info message
//	        compression-info message (protowire)
//	        one serialised dictionary per dictionary-coded attribute,
//	        in attribute order
//	        tuple storage: code rows (row variant) or code stripes
//	        (column variant)
const compressedHeaderFixedSize = 8

// Compression-info message field numbers.
const (
	compressionFieldAttributeSize   = 1
	compressionFieldDictionaryCoded = 2
	compressionFieldTruncated       = 3
)

// maxTruncatedValue returns the largest value representable in width bytes.
// It doubles as the "no upper bound" sentinel when computing code ranges.
func maxTruncatedValue(width int) uint64 {
	return 1<<(8*uint(width)) - 1
}

// codeWidthForCount returns the narrowest supported code width that can
// number count distinct values.
func codeWidthForCount(count int) int {
	switch {
	case count <= 1<<8:
		return 1
	case count <= 1<<16:
		return 2
	default:
		return 4
	}
}

// codeWidthForMax returns the narrowest supported width whose value range
// covers maxValue, or 0 when even 4 bytes cannot.
func codeWidthForMax(maxValue uint64) int {
	switch {
	case maxValue <= maxTruncatedValue(1):
		return 1
	case maxValue <= maxTruncatedValue(2):
		return 2
	case maxValue <= maxTruncatedValue(4):
		return 4
	default:
		return 0
	}
}

// readCode reads a little-endian code of the given width.
func readCode(b []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	default:
		panic(fmt.Sprintf("storage: unexpected code width %d", width))
	}
}

// writeCode writes a little-endian code of the given width.
func writeCode(b []byte, width int, code uint32) {
	switch width {
	case 1:
		b[0] = byte(code)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(code))
	case 4:
		binary.LittleEndian.PutUint32(b, code)
	default:
		panic(fmt.Sprintf("storage: unexpected code width %d", width))
	}
}

// compressionDictionary maps codes to values for one dictionary-coded
// attribute. Values are stored sorted by their natural order, so comparison
// of codes matches comparison of the values they stand for.
type compressionDictionary struct {
	typ      *types.Type
	values   []byte
	numCodes int
}

// NumCodes returns the number of distinct coded values.
func (d *compressionDictionary) NumCodes() int { return d.numCodes }

// ValueOfCode returns the value a code stands for.
func (d *compressionDictionary) ValueOfCode(code uint32) types.Value {
	w := d.typ.MaxByteLength()
	if int(code) >= d.numCodes {
		panic(fmt.Sprintf("storage: dictionary code %d out of range [0,%d)", code, d.numCodes))
	}
	return types.ValueFromBytes(d.typ, d.values[int(code)*w:(int(code)+1)*w])
}

// LowerBoundCode returns the first code whose value is >= v; numCodes when
// every value is smaller.
func (d *compressionDictionary) LowerBoundCode(v types.Value) uint32 {
	return uint32(sort.Search(d.numCodes, func(i int) bool {
		return d.ValueOfCode(uint32(i)).Compare(v) >= 0
	}))
}

// UpperBoundCode returns the first code whose value is > v.
func (d *compressionDictionary) UpperBoundCode(v types.Value) uint32 {
	return uint32(sort.Search(d.numCodes, func(i int) bool {
		return d.ValueOfCode(uint32(i)).Compare(v) > 0
	}))
}

// CodeOf returns the code of v, if v is in the dictionary.
func (d *compressionDictionary) CodeOf(v types.Value) (uint32, bool) {
	code := d.LowerBoundCode(v)
	if int(code) < d.numCodes && d.ValueOfCode(code).Compare(v) == 0 {
		return code, true
	}
	return 0, false
}

// encodedSize returns the serialised dictionary length: total-length and
// code-count words plus the value array.
func (d *compressionDictionary) encodedSize() int {
	return 8 + d.numCodes*d.typ.MaxByteLength()
}

func (d *compressionDictionary) encodeInto(b []byte) int {
	binary.LittleEndian.PutUint32(b, uint32(d.encodedSize()))
	binary.LittleEndian.PutUint32(b[4:], uint32(d.numCodes))
	copy(b[8:], d.values)
	return d.encodedSize()
}

func decodeDictionary(typ *types.Type, b []byte) (*compressionDictionary, int, error) {
	if len(b) < 8 {
		return nil, 0, fmt.Errorf("%w: truncated dictionary", ErrMalformedBlock)
	}
	total := int(binary.LittleEndian.Uint32(b))
	numCodes := int(binary.LittleEndian.Uint32(b[4:]))
	w := typ.MaxByteLength()
	if total != 8+numCodes*w || total > len(b) {
		return nil, 0, fmt.Errorf("%w: dictionary sizes disagree", ErrMalformedBlock)
	}
	return &compressionDictionary{
		typ:      typ,
		values:   b[8:total],
		numCodes: numCodes,
	}, total, nil
}

// compressionInfo records, per attribute, the stored byte width and whether
// the attribute is dictionary-coded or truncated. Uncompressed attributes
// keep their natural width with both flags clear.
type compressionInfo struct {
	widths          []int
	dictionaryCoded []bool
	truncated       []bool
	dictionaries    []*compressionDictionary
}

// tupleLength returns the per-tuple stride across all attributes.
func (ci *compressionInfo) tupleLength() int {
	total := 0
	for _, w := range ci.widths {
		total += w
	}
	return total
}

// isCompressed reports whether the attribute holds codes rather than raw
// values.
func (ci *compressionInfo) isCompressed(attr catalog.AttributeID) bool {
	return ci.dictionaryCoded[attr] || ci.truncated[attr]
}

func (ci *compressionInfo) encode() []byte {
	var b []byte
	for _, w := range ci.widths {
		b = protowire.AppendTag(b, compressionFieldAttributeSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(w))
	}
	for _, v := range ci.dictionaryCoded {
		b = protowire.AppendTag(b, compressionFieldDictionaryCoded, protowire.VarintType)
		b = protowire.AppendVarint(b, boolToUint(v))
	}
	for _, v := range ci.truncated {
		b = protowire.AppendTag(b, compressionFieldTruncated, protowire.VarintType)
		b = protowire.AppendVarint(b, boolToUint(v))
	}
	return b
}

func decodeCompressionInfo(b []byte) (*compressionInfo, error) {
	ci := &compressionInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad compression info tag", ErrMalformedBlock)
		}
		b = b[n:]
		switch num {
		case compressionFieldAttributeSize, compressionFieldDictionaryCoded, compressionFieldTruncated:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad compression info field", ErrMalformedBlock)
			}
			b = b[n:]
			switch num {
			case compressionFieldAttributeSize:
				ci.widths = append(ci.widths, int(v))
			case compressionFieldDictionaryCoded:
				ci.dictionaryCoded = append(ci.dictionaryCoded, v != 0)
			case compressionFieldTruncated:
				ci.truncated = append(ci.truncated, v != 0)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad compression info field %d", ErrMalformedBlock, num)
			}
			b = b[n:]
		}
	}
	if len(ci.widths) != len(ci.dictionaryCoded) || len(ci.widths) != len(ci.truncated) {
		return nil, fmt.Errorf("%w: compression info arity mismatch", ErrMalformedBlock)
	}
	ci.dictionaries = make([]*compressionDictionary, len(ci.widths))
	return ci, nil
}

// compressedBlockBuilder buffers raw tuples during batch insertion into a
// compressed sub-block, then at rebuild chooses per compressed attribute
// between dictionary coding and truncation from the observed value domain
// and writes the packed image.
type compressedBlockBuilder struct {
	relation        *catalog.Relation
	desc            *TupleStoreDescription
	regionSize      int
	columnStoreMode bool

	tuples [][]types.Value

	compressedAttr []bool
	distinct       []map[string]struct{}
	maxSeen        []uint64
	truncatable    []bool
}

func newCompressedBlockBuilder(relation *catalog.Relation, desc *TupleStoreDescription, regionSize int, columnStoreMode bool) *compressedBlockBuilder {
	b := &compressedBlockBuilder{
		relation:        relation,
		desc:            desc,
		regionSize:      regionSize,
		columnStoreMode: columnStoreMode,
		compressedAttr:  make([]bool, relation.NumAttributes()),
		distinct:        make([]map[string]struct{}, relation.NumAttributes()),
		maxSeen:         make([]uint64, relation.NumAttributes()),
		truncatable:     make([]bool, relation.NumAttributes()),
	}
	for _, attr := range desc.CompressedAttributeIDs {
		b.compressedAttr[attr] = true
		b.distinct[attr] = make(map[string]struct{})
		b.truncatable[attr] = relation.Attribute(attr).Type().IsInteger()
	}
	return b
}

func (b *compressedBlockBuilder) numTuples() int { return len(b.tuples) }

// addTuple buffers one converted tuple if the resulting block image still
// fits the region. On a failed fit the builder state is rolled back so the
// caller may retry in another block.
func (b *compressedBlockBuilder) addTuple(tuple *types.Tuple, policy types.ConversionPolicy) bool {
	values := convertTupleValues(b.relation, tuple, policy)

	var newKeys []catalog.AttributeID
	savedMax := make(map[catalog.AttributeID]uint64)
	savedTrunc := make(map[catalog.AttributeID]bool)
	for _, attrID := range b.desc.CompressedAttributeIDs {
		v := values[attrID]
		key := string(v.Bytes())
		if _, ok := b.distinct[attrID][key]; !ok {
			b.distinct[attrID][key] = struct{}{}
			newKeys = append(newKeys, attrID)
		}
		savedMax[attrID] = b.maxSeen[attrID]
		savedTrunc[attrID] = b.truncatable[attrID]
		if b.truncatable[attrID] {
			if u, ok := v.AsUint64(); ok && codeWidthForMax(u) != 0 {
				if u > b.maxSeen[attrID] {
					b.maxSeen[attrID] = u
				}
			} else {
				b.truncatable[attrID] = false
			}
		}
	}

	b.tuples = append(b.tuples, values)
	if b.requiredBytes() <= b.regionSize {
		return true
	}

	// Roll back: the tuple does not fit.
	b.tuples = b.tuples[:len(b.tuples)-1]
	for _, attrID := range newKeys {
		delete(b.distinct[attrID], string(values[attrID].Bytes()))
	}
	for attrID, m := range savedMax {
		b.maxSeen[attrID] = m
	}
	for attrID, t := range savedTrunc {
		b.truncatable[attrID] = t
	}
	return false
}

// chooseCompression decides each compressed attribute's representation from
// the observed domain: dictionary coding, truncation, or natural width when
// neither wins any space.
func (b *compressedBlockBuilder) chooseCompression() *compressionInfo {
	n := len(b.tuples)
	numAttrs := b.relation.NumAttributes()
	ci := &compressionInfo{
		widths:          make([]int, numAttrs),
		dictionaryCoded: make([]bool, numAttrs),
		truncated:       make([]bool, numAttrs),
		dictionaries:    make([]*compressionDictionary, numAttrs),
	}
	for _, attr := range b.relation.Attributes() {
		id := attr.ID()
		natural := attr.Type().MaxByteLength()
		ci.widths[id] = natural
		if !b.compressedAttr[id] {
			continue
		}

		dictWidth := codeWidthForCount(len(b.distinct[id]))
		dictCost := 8 + len(b.distinct[id])*natural + n*dictWidth

		truncCost := -1
		truncWidth := 0
		if b.truncatable[id] {
			truncWidth = codeWidthForMax(b.maxSeen[id])
			if truncWidth > 0 && truncWidth < natural {
				truncCost = n * truncWidth
			}
		}

		naturalCost := n * natural
		switch {
		case truncCost >= 0 && truncCost <= dictCost && truncCost < naturalCost:
			ci.truncated[id] = true
			ci.widths[id] = truncWidth
		case dictCost < naturalCost:
			ci.dictionaryCoded[id] = true
			ci.widths[id] = dictWidth
		}
	}
	return ci
}

// buildDictionaries materialises sorted dictionaries for the attributes
// chooseCompression marked dictionary-coded.
func (b *compressedBlockBuilder) buildDictionaries(ci *compressionInfo) {
	for _, attr := range b.relation.Attributes() {
		id := attr.ID()
		if !ci.dictionaryCoded[id] {
			continue
		}
		typ := attr.Type()
		w := typ.MaxByteLength()
		keys := make([]string, 0, len(b.distinct[id]))
		for k := range b.distinct[id] {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			vi := types.ValueFromBytes(typ, []byte(keys[i]))
			vj := types.ValueFromBytes(typ, []byte(keys[j]))
			return vi.Compare(vj) < 0
		})
		values := make([]byte, len(keys)*w)
		for i, k := range keys {
			copy(values[i*w:], k)
		}
		ci.dictionaries[id] = &compressionDictionary{
			typ:      typ,
			values:   values,
			numCodes: len(keys),
		}
	}
}

// requiredBytes computes the byte size of the block image the builder would
// produce right now, including metadata, dictionaries and tuple storage.
func (b *compressedBlockBuilder) requiredBytes() int {
	ci := b.chooseCompression()
	total := compressedHeaderFixedSize + len(ci.encode())
	for _, attr := range b.relation.Attributes() {
		id := attr.ID()
		if ci.dictionaryCoded[id] {
			total += 8 + len(b.distinct[id])*attr.Type().MaxByteLength()
		}
	}
	return total + len(b.tuples)*ci.tupleLength()
}

// encodeAttributeValue writes one value in its chosen representation.
func encodeAttributeValue(ci *compressionInfo, attr catalog.AttributeID, v types.Value, dest []byte) {
	switch {
	case ci.dictionaryCoded[attr]:
		code, ok := ci.dictionaries[attr].CodeOf(v)
		if !ok {
			panic(fmt.Sprintf("storage: value %s missing from dictionary for attribute %d", v, attr))
		}
		writeCode(dest, ci.widths[attr], code)
	case ci.truncated[attr]:
		u, ok := v.AsUint64()
		if !ok {
			panic(fmt.Sprintf("storage: value %s not truncatable for attribute %d", v, attr))
		}
		writeCode(dest, ci.widths[attr], uint32(u))
	default:
		copy(dest, v.Bytes())
	}
}

// build writes the finished compressed image into the sub-block region and
// returns the compression info. For the column-store variant the buffered
// tuples are sorted on the sort attribute first.
func (b *compressedBlockBuilder) build(memory []byte) *compressionInfo {
	ci := b.chooseCompression()
	b.buildDictionaries(ci)

	if b.columnStoreMode {
		sortAttr := b.desc.SortAttributeID
		sort.SliceStable(b.tuples, func(i, j int) bool {
			return b.tuples[i][sortAttr].Compare(b.tuples[j][sortAttr]) < 0
		})
	}

	n := len(b.tuples)
	binary.LittleEndian.PutUint32(memory, uint32(int32(n)))
	info := ci.encode()
	binary.LittleEndian.PutUint32(memory[4:], uint32(len(info)))
	offset := compressedHeaderFixedSize
	offset += copy(memory[offset:], info)
	for _, attr := range b.relation.Attributes() {
		if dict := ci.dictionaries[attr.ID()]; dict != nil {
			offset += dict.encodeInto(memory[offset:])
		}
	}

	if b.columnStoreMode {
		stride := ci.tupleLength()
		maxNumTuples := (len(memory) - offset) / stride
		for _, attr := range b.relation.Attributes() {
			id := attr.ID()
			w := ci.widths[id]
			for i, values := range b.tuples {
				encodeAttributeValue(ci, id, values[id], memory[offset+i*w:offset+(i+1)*w])
			}
			offset += maxNumTuples * w
		}
	} else {
		stride := ci.tupleLength()
		for i, values := range b.tuples {
			rowBase := offset + i*stride
			attrOffset := 0
			for _, attr := range b.relation.Attributes() {
				id := attr.ID()
				encodeAttributeValue(ci, id, values[id], memory[rowBase+attrOffset:rowBase+attrOffset+ci.widths[id]])
				attrOffset += ci.widths[id]
			}
		}
	}
	return ci
}
