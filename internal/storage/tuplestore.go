package storage

import (
	"fmt"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/types"
)

// InsertResult describes the outcome of a single ad-hoc tuple insertion.
type InsertResult struct {
	// InsertedID is the id of the new tuple, or InvalidTupleID if there was
	// no room.
	InsertedID TupleID

	// IDsMutated is true when existing tuples were renumbered to make room
	// (sort-ordered stores shifting to preserve order), requiring indexes
	// to be rebuilt.
	IDsMutated bool
}

// TupleStore is the contract shared by every tuple-storage sub-block. A
// store owns an opaque region of its block's memory and maps dense tuple ids
// to attribute values.
type TupleStore interface {
	// Kind identifies the concrete implementation.
	Kind() TupleStoreKind

	// SupportsUntypedGet reports whether AttributeValueBytes works for the
	// attribute. False when values exist only as dictionary codes.
	SupportsUntypedGet(attr catalog.AttributeID) bool

	// SupportsAdHocInsert reports whether Insert can ever succeed. When
	// false, tuples arrive via InsertInBatch followed by Rebuild; Insert
	// stays legal to call but always fails.
	SupportsAdHocInsert() bool

	// AdHocInsertIsEfficient reports whether Insert has constant cost and
	// never reorganises other tuples.
	AdHocInsertIsEfficient() bool

	// IsEmpty reports whether the store holds no tuples.
	IsEmpty() bool

	// IsPacked reports whether the tuple-id sequence has no gaps.
	IsPacked() bool

	// MaxTupleID returns the highest live tuple id, or InvalidTupleID when
	// the store is empty.
	MaxTupleID() TupleID

	// NumTuples returns the number of live tuples.
	NumTuples() int

	// HasTuple reports whether the id addresses a live tuple.
	HasTuple(tid TupleID) bool

	// Insert adds one tuple ad hoc, converting values per policy.
	Insert(tuple *types.Tuple, policy types.ConversionPolicy) InsertResult

	// InsertInBatch adds one tuple as part of a batch, possibly in a
	// temporary location. Only further InsertInBatch calls and finally
	// Rebuild are legal until the batch completes. Returns false when out
	// of space.
	InsertInBatch(tuple *types.Tuple, policy types.ConversionPolicy) bool

	// AttributeValueBytes returns the raw stored bytes of one attribute of
	// one tuple. Only legal when SupportsUntypedGet(attr).
	AttributeValueBytes(tid TupleID, attr catalog.AttributeID) []byte

	// AttributeValue returns one attribute of one tuple as a typed value.
	AttributeValue(tid TupleID, attr catalog.AttributeID) types.Value

	// Delete removes one tuple. The result is true when other tuples' ids
	// were renumbered by the removal, requiring indexes to be rebuilt.
	Delete(tid TupleID) bool

	// Matches returns the ids of tuples satisfying the predicate, or every
	// tuple when the predicate is nil.
	Matches(predicate *expr.Predicate) *TupleIDSequence

	// Rebuild compacts storage and restores any representation invariants
	// relaxed during batch insertion (sort order, compression).
	Rebuild()

	// IsCompressed reports whether the store holds coded values.
	IsCompressed() bool
}

// NewTupleStore instantiates the tuple store named by the description over
// its assigned memory region. With newBlock false, existing region contents
// are reopened instead of initialised.
func NewTupleStore(relation *catalog.Relation, desc *TupleStoreDescription, newBlock bool, memory []byte) (TupleStore, error) {
	switch desc.Kind {
	case PackedRowStore:
		return newPackedRowStore(relation, desc, newBlock, memory)
	case BasicColumnStore:
		return newBasicColumnStore(relation, desc, newBlock, memory)
	case CompressedPackedRowStore:
		return newCompressedPackedRowStore(relation, desc, newBlock, memory)
	case CompressedColumnStore:
		return newCompressedColumnStore(relation, desc, newBlock, memory)
	default:
		return nil, fmt.Errorf("%w: unknown tuple store kind %d", ErrMalformedBlock, int(desc.Kind))
	}
}

// matchesLinear is the fallback predicate evaluator: walk every live tuple
// and test the predicate against typed attribute values. Stores whose
// structure admits something faster override the path before falling back
// here.
func matchesLinear(store TupleStore, predicate *expr.Predicate) *TupleIDSequence {
	matches := NewTupleIDSequence()
	if store.IsPacked() {
		for tid := TupleID(0); tid <= store.MaxTupleID(); tid++ {
			if predicate.Matches(func(attr catalog.AttributeID) types.Value {
				return store.AttributeValue(tid, attr)
			}) {
				matches.Append(tid)
			}
		}
		return matches
	}
	for tid := TupleID(0); tid <= store.MaxTupleID(); tid++ {
		if !store.HasTuple(tid) {
			continue
		}
		if predicate.Matches(func(attr catalog.AttributeID) types.Value {
			return store.AttributeValue(tid, attr)
		}) {
			matches.Append(tid)
		}
	}
	return matches
}

// convertTupleValues applies the conversion policy to a tuple, returning the
// values to write in attribute order. Conversion failures are programmer
// errors: type agreement is the caller's responsibility, checked here.
func convertTupleValues(relation *catalog.Relation, tuple *types.Tuple, policy types.ConversionPolicy) []types.Value {
	if tuple.Size() != relation.NumAttributes() {
		panic(fmt.Sprintf("storage: %d tuple values for relation %q with %d attributes",
			tuple.Size(), relation.Name(), relation.NumAttributes()))
	}
	values := make([]types.Value, tuple.Size())
	for i, attr := range relation.Attributes() {
		v := tuple.Value(i)
		if !v.CoercibleTo(attr.Type(), policy) {
			panic(fmt.Sprintf("storage: value %s not coercible to %s attribute %q",
				v, attr.Type(), attr.Name()))
		}
		values[i] = v.CoerceTo(attr.Type())
	}
	return values
}
