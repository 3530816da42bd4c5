package types

import "fmt"

// Tuple is an ordered sequence of values, one per attribute of a relation.
type Tuple struct {
	values []Value
}

// NewTuple builds a tuple from values in attribute order.
func NewTuple(values ...Value) *Tuple {
	return &Tuple{values: values}
}

// Append adds a value at the end of the tuple.
func (t *Tuple) Append(v Value) {
	t.values = append(t.values, v)
}

// Size returns the number of values in the tuple.
func (t *Tuple) Size() int { return len(t.values) }

// Value returns the i-th value.
func (t *Tuple) Value(i int) Value {
	if i < 0 || i >= len(t.values) {
		panic(fmt.Sprintf("types: tuple value index %d out of range [0,%d)", i, len(t.values)))
	}
	return t.values[i]
}

// ByteSize returns the total serialized length of the tuple's values.
func (t *Tuple) ByteSize() int {
	total := 0
	for _, v := range t.values {
		total += len(v.Bytes())
	}
	return total
}
