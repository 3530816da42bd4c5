package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// noCodeUpperBound marks a code range with no upper limit; ranges ending
// here run to the end of the store.
const noCodeUpperBound = math.MaxUint32

// codePlanKind tags the outcomes of translating a value-domain predicate
// into the code domain.
type codePlanKind int

const (
	// codePlanNone means the predicate is not a comparison on a compressed
	// attribute; evaluate it the ordinary way.
	codePlanNone codePlanKind = iota
	// codePlanEmpty matches nothing (e.g. equality with a literal absent
	// from the dictionary).
	codePlanEmpty
	// codePlanAll matches every tuple.
	codePlanAll
	// codePlanEqual matches tuples whose code equals Code.
	codePlanEqual
	// codePlanNotEqual matches tuples whose code differs from Code.
	codePlanNotEqual
	// codePlanRange matches tuples whose code lies in [Lo, Hi).
	codePlanRange
)

// codePlan is a predicate translated into the code domain of one compressed
// attribute.
type codePlan struct {
	kind codePlanKind
	attr catalog.AttributeID
	code uint32
	lo   uint32
	hi   uint32
}

// compressedStoreBase carries the state and behaviour shared by the two
// compressed tuple-store variants: the buffered builder used during batch
// loads, the compression info and dictionaries parsed from the region, and
// the translation of predicates into code-domain plans.
type compressedStoreBase struct {
	relation *catalog.Relation
	desc     *TupleStoreDescription
	memory   []byte

	builder *compressedBlockBuilder
	info    *compressionInfo

	// dataOffset is where tuple storage begins, past the compression
	// metadata. Valid once initialised.
	dataOffset int
}

func compressedDescriptionIsValid(relation *catalog.Relation, desc *TupleStoreDescription) bool {
	if relation.HasNullableAttributes() {
		return false
	}
	compressed := make(map[catalog.AttributeID]bool, len(desc.CompressedAttributeIDs))
	for _, id := range desc.CompressedAttributeIDs {
		if !relation.HasAttribute(id) {
			return false
		}
		if !relation.Attribute(id).Type().IsOrderable() {
			return false
		}
		compressed[id] = true
	}
	// Variable-length attributes, if any, must all be compressed.
	for _, attr := range relation.Attributes() {
		if attr.Type().IsVariableLength() && !compressed[attr.ID()] {
			return false
		}
	}
	if desc.Kind == CompressedColumnStore {
		if !relation.HasAttribute(desc.SortAttributeID) {
			return false
		}
		if !relation.Attribute(desc.SortAttributeID).Type().IsOrderable() {
			return false
		}
	}
	return true
}

// compressedEstimateBytesPerTuple discounts compressed attributes to a third
// of their average length when apportioning block space.
func compressedEstimateBytesPerTuple(relation *catalog.Relation, desc *TupleStoreDescription) int {
	compressed := make(map[catalog.AttributeID]bool, len(desc.CompressedAttributeIDs))
	for _, id := range desc.CompressedAttributeIDs {
		compressed[id] = true
	}
	total := 0
	for _, attr := range relation.Attributes() {
		if compressed[attr.ID()] {
			total += attr.Type().AverageByteLength() / 3
		} else {
			total += attr.Type().AverageByteLength()
		}
	}
	if total == 0 {
		total = 1
	}
	return total
}

func (b *compressedStoreBase) numTuples() int {
	return int(int32(binary.LittleEndian.Uint32(b.memory)))
}

func (b *compressedStoreBase) setNumTuples(n int) {
	binary.LittleEndian.PutUint32(b.memory, uint32(int32(n)))
}

// initializeCommon parses the compression info and dictionaries from the
// region and records where tuple storage begins.
func (b *compressedStoreBase) initializeCommon() error {
	if len(b.memory) < compressedHeaderFixedSize {
		return fmt.Errorf("%w: compressed store needs %d bytes, got %d",
			ErrBlockMemoryTooSmall, compressedHeaderFixedSize, len(b.memory))
	}
	infoLen := int(binary.LittleEndian.Uint32(b.memory[4:]))
	if compressedHeaderFixedSize+infoLen > len(b.memory) {
		return fmt.Errorf("%w: compression info overruns region", ErrMalformedBlock)
	}
	info, err := decodeCompressionInfo(b.memory[compressedHeaderFixedSize : compressedHeaderFixedSize+infoLen])
	if err != nil {
		return err
	}
	if len(info.widths) != b.relation.NumAttributes() {
		return fmt.Errorf("%w: compression info covers %d of %d attributes",
			ErrMalformedBlock, len(info.widths), b.relation.NumAttributes())
	}
	offset := compressedHeaderFixedSize + infoLen
	for _, attr := range b.relation.Attributes() {
		if !info.dictionaryCoded[attr.ID()] {
			continue
		}
		dict, n, err := decodeDictionary(attr.Type(), b.memory[offset:])
		if err != nil {
			return err
		}
		info.dictionaries[attr.ID()] = dict
		offset += n
	}
	b.info = info
	b.dataOffset = offset
	return nil
}

// typedValueFromCode reconstructs the attribute value a stored code stands
// for.
func (b *compressedStoreBase) typedValueFromCode(attr catalog.AttributeID, code uint32) types.Value {
	switch {
	case b.info.dictionaryCoded[attr]:
		return b.info.dictionaries[attr].ValueOfCode(code)
	case b.info.truncated[attr]:
		typ := b.relation.Attribute(attr).Type()
		if typ.ID() == types.LongID {
			return types.NewLong(int64(code))
		}
		return types.NewInt(int32(code))
	default:
		panic(fmt.Sprintf("storage: attribute %d holds raw values, not codes", attr))
	}
}

// literalAsInt extracts an integral literal for truncated-code comparison.
// exact is false when the literal has a fractional part, in which case ops
// must account for the value falling between codes.
func literalAsInt(v types.Value) (val int64, exact bool, ok bool) {
	switch v.Type().ID() {
	case types.IntID:
		return int64(v.Int()), true, true
	case types.LongID:
		return v.Long(), true, true
	case types.FloatID:
		f := float64(v.Float())
		return int64(math.Floor(f)), f == math.Floor(f), true
	case types.DoubleID:
		f := v.Double()
		return int64(math.Floor(f)), f == math.Floor(f), true
	default:
		return 0, false, false
	}
}

// translatePredicate maps an attribute-literal comparison on a compressed
// attribute into the code domain. plan.kind is codePlanNone when the
// predicate has a different shape or touches an uncompressed attribute.
func (b *compressedStoreBase) translatePredicate(predicate *expr.Predicate) codePlan {
	attr, op, literal, ok := predicate.AttributeLiteralComparison()
	if !ok || !b.info.isCompressed(attr.ID()) {
		return codePlan{kind: codePlanNone}
	}
	if b.info.dictionaryCoded[attr.ID()] {
		return translateDictionaryComparison(b.info.dictionaries[attr.ID()], attr.ID(), op, literal)
	}
	return translateTruncatedComparison(attr.ID(), b.info.widths[attr.ID()], op, literal)
}

// translateDictionaryComparison exploits the dictionary's value order:
// equality resolves to a single code, ordered comparisons resolve to a code
// range whose bounds come from the dictionary's binary searches.
func translateDictionaryComparison(dict *compressionDictionary, attr catalog.AttributeID, op expr.ComparisonOp, literal types.Value) codePlan {
	switch op {
	case expr.Equal:
		code, ok := dict.CodeOf(literal)
		if !ok {
			return codePlan{kind: codePlanEmpty}
		}
		return codePlan{kind: codePlanEqual, attr: attr, code: code}
	case expr.NotEqual:
		code, ok := dict.CodeOf(literal)
		if !ok {
			return codePlan{kind: codePlanAll}
		}
		return codePlan{kind: codePlanNotEqual, attr: attr, code: code}
	case expr.Less:
		return codePlan{kind: codePlanRange, attr: attr, lo: 0, hi: dict.LowerBoundCode(literal)}
	case expr.LessOrEqual:
		return codePlan{kind: codePlanRange, attr: attr, lo: 0, hi: dict.UpperBoundCode(literal)}
	case expr.Greater:
		return codePlan{kind: codePlanRange, attr: attr, lo: dict.UpperBoundCode(literal), hi: noCodeUpperBound}
	case expr.GreaterOrEqual:
		return codePlan{kind: codePlanRange, attr: attr, lo: dict.LowerBoundCode(literal), hi: noCodeUpperBound}
	default:
		return codePlan{kind: codePlanNone}
	}
}

// translateTruncatedComparison compares directly against the code domain
// [0, maxTruncatedValue(width)]: truncated codes are the values themselves.
func translateTruncatedComparison(attr catalog.AttributeID, width int, op expr.ComparisonOp, literal types.Value) codePlan {
	val, exact, ok := literalAsInt(literal)
	if !ok {
		return codePlan{kind: codePlanNone}
	}
	maxCode := int64(maxTruncatedValue(width))
	switch op {
	case expr.Equal:
		if !exact || val < 0 || val > maxCode {
			return codePlan{kind: codePlanEmpty}
		}
		return codePlan{kind: codePlanEqual, attr: attr, code: uint32(val)}
	case expr.NotEqual:
		if !exact || val < 0 || val > maxCode {
			return codePlan{kind: codePlanAll}
		}
		return codePlan{kind: codePlanNotEqual, attr: attr, code: uint32(val)}
	case expr.Less:
		// For a fractional literal, value < literal means value <= floor.
		bound := val
		if !exact {
			bound = val + 1
		}
		if bound <= 0 {
			return codePlan{kind: codePlanEmpty}
		}
		if bound > maxCode {
			return codePlan{kind: codePlanAll}
		}
		return codePlan{kind: codePlanRange, attr: attr, lo: 0, hi: uint32(bound)}
	case expr.LessOrEqual:
		if val < 0 {
			return codePlan{kind: codePlanEmpty}
		}
		if val >= maxCode {
			return codePlan{kind: codePlanAll}
		}
		return codePlan{kind: codePlanRange, attr: attr, lo: 0, hi: uint32(val + 1)}
	case expr.Greater:
		bound := val + 1
		if bound <= 0 {
			return codePlan{kind: codePlanAll}
		}
		if bound > maxCode {
			return codePlan{kind: codePlanEmpty}
		}
		return codePlan{kind: codePlanRange, attr: attr, lo: uint32(bound), hi: noCodeUpperBound}
	case expr.GreaterOrEqual:
		bound := val
		if !exact {
			bound = val + 1
		}
		if bound <= 0 {
			return codePlan{kind: codePlanAll}
		}
		if bound > maxCode {
			return codePlan{kind: codePlanEmpty}
		}
		return codePlan{kind: codePlanRange, attr: attr, lo: uint32(bound), hi: noCodeUpperBound}
	default:
		return codePlan{kind: codePlanNone}
	}
}

// scanCodes runs the code plan over a store with a per-tuple code reader,
// appending matching ids in ascending order.
func scanCodes(plan codePlan, numTuples int, codeAt func(TupleID) uint32) *TupleIDSequence {
	matches := NewTupleIDSequence()
	switch plan.kind {
	case codePlanEmpty:
	case codePlanAll:
		matches.AppendRange(0, TupleID(numTuples))
	case codePlanEqual:
		for tid := TupleID(0); int(tid) < numTuples; tid++ {
			if codeAt(tid) == plan.code {
				matches.Append(tid)
			}
		}
	case codePlanNotEqual:
		for tid := TupleID(0); int(tid) < numTuples; tid++ {
			if codeAt(tid) != plan.code {
				matches.Append(tid)
			}
		}
	case codePlanRange:
		for tid := TupleID(0); int(tid) < numTuples; tid++ {
			c := codeAt(tid)
			if plan.lo <= c && (plan.hi == noCodeUpperBound || c < plan.hi) {
				matches.Append(tid)
			}
		}
	default:
		panic(fmt.Sprintf("storage: scanCodes on plan kind %d", int(plan.kind)))
	}
	return matches
}
