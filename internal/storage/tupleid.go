package storage

import "github.com/RoaringBitmap/roaring/v2"

// TupleIDSequence is the set of tuple ids produced by predicate evaluation,
// backed by a roaring bitmap. Evaluator fast paths append whole id bands;
// index probes append ids in key order. Either way the bitmap iterates
// ascending, so consumers always see ids in tuple order.
type TupleIDSequence struct {
	ids *roaring.Bitmap
}

// NewTupleIDSequence creates an empty sequence.
func NewTupleIDSequence() *TupleIDSequence {
	return &TupleIDSequence{ids: roaring.New()}
}

// Append adds one tuple id.
func (s *TupleIDSequence) Append(tid TupleID) {
	s.ids.Add(uint32(tid))
}

// AppendRange adds the half-open id band [lo, hi).
func (s *TupleIDSequence) AppendRange(lo, hi TupleID) {
	if lo >= hi {
		return
	}
	s.ids.AddRange(uint64(uint32(lo)), uint64(uint32(hi)))
}

// Size returns the number of ids in the sequence.
func (s *TupleIDSequence) Size() int {
	return int(s.ids.GetCardinality())
}

// Contains reports whether the sequence holds the id.
func (s *TupleIDSequence) Contains(tid TupleID) bool {
	return s.ids.Contains(uint32(tid))
}

// IDs returns the ids in ascending order.
func (s *TupleIDSequence) IDs() []TupleID {
	out := make([]TupleID, 0, s.ids.GetCardinality())
	it := s.ids.Iterator()
	for it.HasNext() {
		out = append(out, TupleID(it.Next()))
	}
	return out
}

// Sort orders the ids ascending. Callers request it after index probes,
// whose entry order is unspecified; the bitmap representation already
// iterates ascending, so there is nothing left to do.
func (s *TupleIDSequence) Sort() {}
