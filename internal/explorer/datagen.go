package explorer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/storage"
	"github.com/fenilsonani/stratab/internal/types"
)

// dataGeneratorSeed keeps runs repeatable across processes.
const dataGeneratorSeed = 42

// fiveCharWords is the size of the five-character word domain used by the
// strings generator: each character carries six bits.
const fiveCharWords = 1 << 30

// DataGenerator builds one synthetic relation, its tuples and the
// predicates that hit a requested selectivity against it.
type DataGenerator interface {
	// GenerateRelation builds the schema.
	GenerateRelation() *catalog.Relation

	// GenerateTuple produces one random tuple.
	GenerateTuple(rng *rand.Rand) *types.Tuple

	// GenerateTupleForPartition produces a tuple whose value in
	// partitionColumn falls into partition partitionNum of totalPartitions
	// equal slices of the column domain.
	GenerateTupleForPartition(rng *rand.Rand, partitionColumn catalog.AttributeID, partitionNum, totalPartitions int) *types.Tuple

	// GeneratePredicate builds a predicate on selectColumn whose expected
	// selectivity over generated data approximates selectivity. A
	// selectivity of 1 yields the trivial-true predicate.
	GeneratePredicate(relation *catalog.Relation, selectColumn catalog.AttributeID, selectivity float64) *expr.Predicate
}

// NewDataGenerator builds the generator for a table choice.
func NewDataGenerator(table TableChoice) DataGenerator {
	switch table {
	case TableNarrowE:
		ranges := make([]int, 10)
		for i := range ranges {
			ranges[i] = int(math.Pow(2, float64(i+1)*2.7))
		}
		return &numericDataGenerator{name: "NarrowE", columnRanges: ranges}
	case TableNarrowU:
		ranges := make([]int, 10)
		for i := range ranges {
			ranges[i] = 100000000
		}
		return &numericDataGenerator{name: "NarrowU", columnRanges: ranges}
	case TableWideE:
		ranges := make([]int, 50)
		for i := range ranges {
			ranges[i] = int(math.Pow(2, 4.0+float64(i+1)*0.46))
		}
		return &numericDataGenerator{name: "WideE", columnRanges: ranges}
	case TableStrings:
		return &stringsDataGenerator{}
	default:
		panic(fmt.Sprintf("explorer: unknown table choice %q", table))
	}
}

// numericDataGenerator produces int columns with per-column value domains
// [0, range).
type numericDataGenerator struct {
	name         string
	columnRanges []int
}

func (g *numericDataGenerator) GenerateRelation() *catalog.Relation {
	relation := catalog.NewRelation(g.name)
	for i := range g.columnRanges {
		relation.AddAttribute(fmt.Sprintf("intcol%d", i), types.Int())
	}
	return relation
}

func (g *numericDataGenerator) GenerateTuple(rng *rand.Rand) *types.Tuple {
	tuple := types.NewTuple()
	for _, r := range g.columnRanges {
		tuple.Append(types.NewInt(int32(rng.Intn(r))))
	}
	return tuple
}

func (g *numericDataGenerator) GenerateTupleForPartition(rng *rand.Rand, partitionColumn catalog.AttributeID, partitionNum, totalPartitions int) *types.Tuple {
	tuple := types.NewTuple()
	for i, r := range g.columnRanges {
		if catalog.AttributeID(i) == partitionColumn {
			width := r / totalPartitions
			tuple.Append(types.NewInt(int32(width*partitionNum + rng.Intn(width))))
		} else {
			tuple.Append(types.NewInt(int32(rng.Intn(r))))
		}
	}
	return tuple
}

// GeneratePredicate emits "column >= threshold" with the threshold placed at
// the (1 - selectivity) quantile of the uniform column domain.
func (g *numericDataGenerator) GeneratePredicate(relation *catalog.Relation, selectColumn catalog.AttributeID, selectivity float64) *expr.Predicate {
	if selectivity <= 0 {
		return expr.False()
	}
	if selectivity >= 1 {
		return expr.True()
	}
	threshold := int32((1.0 - selectivity) * float64(g.columnRanges[selectColumn]))
	return expr.NewComparison(expr.GreaterOrEqual,
		expr.NewAttribute(relation.Attribute(selectColumn)),
		expr.NewLiteral(types.NewInt(threshold)))
}

// stringsDataGenerator produces char(20) columns, each the concatenation of
// four five-character words drawn from an ordered 2^30 word domain.
type stringsDataGenerator struct{}

func (g *stringsDataGenerator) GenerateRelation() *catalog.Relation {
	relation := catalog.NewRelation("Strings")
	for i := 0; i < 10; i++ {
		relation.AddAttribute(fmt.Sprintf("stringcol%d", i), types.Char(20))
	}
	return relation
}

func (g *stringsDataGenerator) generateValue(rng *rand.Rand) string {
	var buf [20]byte
	for stride := 0; stride < 4; stride++ {
		generateFiveChars(rng.Intn(fiveCharWords), buf[stride*5:])
	}
	return string(buf[:])
}

func (g *stringsDataGenerator) GenerateTuple(rng *rand.Rand) *types.Tuple {
	tuple := types.NewTuple()
	for i := 0; i < 10; i++ {
		tuple.Append(types.NewChar(g.generateValue(rng), 20))
	}
	return tuple
}

func (g *stringsDataGenerator) GenerateTupleForPartition(rng *rand.Rand, partitionColumn catalog.AttributeID, partitionNum, totalPartitions int) *types.Tuple {
	tuple := types.NewTuple()
	for i := 0; i < 10; i++ {
		var buf [20]byte
		for stride := 0; stride < 4; stride++ {
			if catalog.AttributeID(i) == partitionColumn && stride == 0 {
				width := fiveCharWords / totalPartitions
				generateFiveChars(width*partitionNum+rng.Intn(width), buf[:])
			} else {
				generateFiveChars(rng.Intn(fiveCharWords), buf[stride*5:])
			}
		}
		tuple.Append(types.NewChar(string(buf[:]), 20))
	}
	return tuple
}

// GeneratePredicate emits "column >= word" where the five-character word
// sits at the (1 - selectivity) quantile of the leading-word domain,
// padded to the column width.
func (g *stringsDataGenerator) GeneratePredicate(relation *catalog.Relation, selectColumn catalog.AttributeID, selectivity float64) *expr.Predicate {
	if selectivity <= 0 {
		return expr.False()
	}
	if selectivity >= 1 {
		return expr.True()
	}
	var word [5]byte
	generateFiveChars(int((1.0-selectivity)*fiveCharWords), word[:])
	return expr.NewComparison(expr.GreaterOrEqual,
		expr.NewAttribute(relation.Attribute(selectColumn)),
		expr.NewLiteral(types.NewChar(string(word[:]), 20)))
}

// generateFiveChars maps a word index onto five characters drawn from an
// ordered 64-symbol alphabet, six bits per character.
func generateFiveChars(word int, dest []byte) {
	const sixBitsMask = 63
	for pos := 0; pos < 5; pos++ {
		idx := (word >> uint((4-pos)*6)) & sixBitsMask
		switch {
		case idx == 0:
			dest[pos] = ' '
		case idx == 1:
			dest[pos] = '.'
		case idx < 12:
			dest[pos] = byte(48 + idx - 2)
		case idx < 38:
			dest[pos] = byte(65 + idx - 12)
		default:
			dest[pos] = byte(97 + idx - 38)
		}
	}
}

// LayoutDescriptionForConfig translates the experiment configuration into a
// block layout description for the generated relation.
func LayoutDescriptionForConfig(cfg *Config, relation *catalog.Relation) storage.LayoutDescription {
	desc := storage.LayoutDescription{NumSlots: cfg.BlockSizeMB}
	switch {
	case cfg.UseColumnStore() && cfg.UseCompression:
		desc.TupleStore.Kind = storage.CompressedColumnStore
		desc.TupleStore.SortAttributeID = catalog.AttributeID(*cfg.SortColumn)
		for _, attr := range relation.Attributes() {
			desc.TupleStore.CompressedAttributeIDs = append(desc.TupleStore.CompressedAttributeIDs, attr.ID())
		}
	case cfg.UseColumnStore():
		desc.TupleStore.Kind = storage.BasicColumnStore
		desc.TupleStore.SortAttributeID = catalog.AttributeID(*cfg.SortColumn)
	case cfg.UseCompression:
		desc.TupleStore.Kind = storage.CompressedPackedRowStore
		for _, attr := range relation.Attributes() {
			desc.TupleStore.CompressedAttributeIDs = append(desc.TupleStore.CompressedAttributeIDs, attr.ID())
		}
	default:
		desc.TupleStore.Kind = storage.PackedRowStore
	}
	if cfg.IndexColumn != nil {
		desc.Indexes = append(desc.Indexes, storage.IndexDescription{
			Kind:               storage.CSBTreeIndexKind,
			IndexedAttributeID: catalog.AttributeID(*cfg.IndexColumn),
		})
	}
	if cfg.BloomFilterEnabled() {
		bloomAttr := catalog.AttributeID(0)
		if cfg.IndexColumn != nil {
			bloomAttr = catalog.AttributeID(*cfg.IndexColumn)
		}
		desc.BloomFilter = &storage.BloomFilterDescription{
			Kind:        storage.DefaultBloomFilterKind,
			AttributeID: bloomAttr,
		}
	}
	return desc
}
