package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ConversionPolicy controls how much coercion is permitted when a value is
// written into an attribute of a different type.
type ConversionPolicy int

const (
	// ConvertNone requires the value's type to equal the attribute's type.
	ConvertNone ConversionPolicy = iota
	// ConvertSafe permits lossless widening (int to long, float to double,
	// char(n) to char(m) with m >= n).
	ConvertSafe
	// ConvertUnsafe permits any coercion between comparable types, possibly
	// losing precision.
	ConvertUnsafe
)

// Value is a single typed attribute value. The zero Value is invalid; build
// values with the NewXxx constructors or decode them with ValueFromBytes.
type Value struct {
	typ  *Type
	data []byte
}

// NewInt builds an int value.
func NewInt(v int32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return Value{typ: intNonNull, data: b}
}

// NewLong builds a long value.
func NewLong(v int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Value{typ: longNonNull, data: b}
}

// NewFloat builds a float value.
func NewFloat(v float32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return Value{typ: floatNonNull, data: b}
}

// NewDouble builds a double value.
func NewDouble(v float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return Value{typ: doubleNonNull, data: b}
}

// NewChar builds a char(n) value from s, truncating or NUL-padding to n.
func NewChar(s string, n int) Value {
	b := make([]byte, n)
	copy(b, s)
	return Value{typ: Char(n), data: b}
}

// ValueFromBytes reinterprets raw as a value of type t. The slice is aliased,
// not copied; callers that hold onto the value across mutations of the
// underlying storage must copy first.
func ValueFromBytes(t *Type, raw []byte) Value {
	if len(raw) != t.MaxByteLength() {
		panic(fmt.Sprintf("types: %d raw bytes for %s value", len(raw), t))
	}
	return Value{typ: t, data: raw}
}

// Type returns the value's type.
func (v Value) Type() *Type { return v.typ }

// Clone returns a value backed by its own copy of the bytes. Needed when a
// value read out of storage must outlive a rewrite of that storage.
func (v Value) Clone() Value {
	data := make([]byte, len(v.data))
	copy(data, v.data)
	return Value{typ: v.typ, data: data}
}

// Bytes returns the value's serialized representation. The returned slice
// must not be mutated.
func (v Value) Bytes() []byte { return v.data }

// IsValid reports whether the value has been initialised.
func (v Value) IsValid() bool { return v.typ != nil }

// Int returns the value as an int32. Panics on non-int values.
func (v Value) Int() int32 {
	if v.typ.id != IntID {
		panic(fmt.Sprintf("types: Int() on %s value", v.typ))
	}
	return int32(binary.LittleEndian.Uint32(v.data))
}

// Long returns the value as an int64. Panics on non-long values.
func (v Value) Long() int64 {
	if v.typ.id != LongID {
		panic(fmt.Sprintf("types: Long() on %s value", v.typ))
	}
	return int64(binary.LittleEndian.Uint64(v.data))
}

// Float returns the value as a float32. Panics on non-float values.
func (v Value) Float() float32 {
	if v.typ.id != FloatID {
		panic(fmt.Sprintf("types: Float() on %s value", v.typ))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.data))
}

// Double returns the value as a float64. Panics on non-double values.
func (v Value) Double() float64 {
	if v.typ.id != DoubleID {
		panic(fmt.Sprintf("types: Double() on %s value", v.typ))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.data))
}

// CharString returns the value as a string with trailing NUL padding removed.
func (v Value) CharString() string {
	if v.typ.id != CharID {
		panic(fmt.Sprintf("types: CharString() on %s value", v.typ))
	}
	return string(bytes.TrimRight(v.data, "\x00"))
}

// numeric returns the value widened to float64 for cross-type comparison and
// unsafe coercion.
func (v Value) numeric() float64 {
	switch v.typ.id {
	case IntID:
		return float64(v.Int())
	case LongID:
		return float64(v.Long())
	case FloatID:
		return float64(v.Float())
	case DoubleID:
		return float64(v.Double())
	default:
		panic(fmt.Sprintf("types: numeric() on %s value", v.typ))
	}
}

// AsUint64 returns the value's magnitude as an unsigned integer, which is the
// domain truncation compression operates on. The second return is false for
// non-integer types and negative values.
func (v Value) AsUint64() (uint64, bool) {
	switch v.typ.id {
	case IntID:
		n := v.Int()
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case LongID:
		n := v.Long()
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// Compare orders v against other, returning a negative, zero or positive
// result. Both values must be of comparable types: any two numeric types
// compare numerically, char compares against char of any length.
func (v Value) Compare(other Value) int {
	if v.typ.id == CharID || other.typ.id == CharID {
		if v.typ.id != other.typ.id {
			panic(fmt.Sprintf("types: comparing %s with %s", v.typ, other.typ))
		}
		return compareCharBytes(v.data, other.data)
	}
	a, b := v.numeric(), other.numeric()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareCharBytes orders two NUL-padded char representations of possibly
// different declared lengths the way strcmp orders the underlying strings.
func compareCharBytes(a, b []byte) int {
	return bytes.Compare(bytes.TrimRight(a, "\x00"), bytes.TrimRight(b, "\x00"))
}

// CoercibleTo reports whether the value can be converted to t under policy.
func (v Value) CoercibleTo(t *Type, policy ConversionPolicy) bool {
	if v.typ.Equals(t) {
		return true
	}
	switch policy {
	case ConvertNone:
		return false
	case ConvertSafe:
		switch {
		case v.typ.id == IntID && t.id == LongID:
			return true
		case v.typ.id == FloatID && t.id == DoubleID:
			return true
		case v.typ.id == CharID && t.id == CharID:
			return t.width >= v.typ.width
		default:
			return false
		}
	case ConvertUnsafe:
		if v.typ.id == CharID || t.id == CharID {
			return v.typ.id == CharID && t.id == CharID
		}
		return true
	default:
		panic(fmt.Sprintf("types: unknown ConversionPolicy %d", int(policy)))
	}
}

// CoerceTo converts the value to type t. The caller must have verified
// CoercibleTo under the policy in force; CoerceTo itself performs any
// representable conversion.
func (v Value) CoerceTo(t *Type) Value {
	if v.typ.Equals(t) {
		return v
	}
	switch t.id {
	case IntID:
		return NewInt(int32(v.numeric()))
	case LongID:
		return NewLong(int64(v.numeric()))
	case FloatID:
		return NewFloat(float32(v.numeric()))
	case DoubleID:
		return NewDouble(v.numeric())
	case CharID:
		if v.typ.id != CharID {
			panic(fmt.Sprintf("types: cannot coerce %s to %s", v.typ, t))
		}
		b := make([]byte, t.width)
		copy(b, v.data)
		return Value{typ: Char(t.width), data: b}
	default:
		panic(fmt.Sprintf("types: cannot coerce %s to %s", v.typ, t))
	}
}

// OrderKey returns a byte string whose lexicographic order matches the
// value order of the type. Used by index sub-blocks so entries can be
// compared with bytes.Compare regardless of type.
func (v Value) OrderKey() []byte {
	switch v.typ.id {
	case IntID:
		k := make([]byte, 4)
		binary.BigEndian.PutUint32(k, uint32(v.Int())^(1<<31))
		return k
	case LongID:
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, uint64(v.Long())^(1<<63))
		return k
	case FloatID:
		k := make([]byte, 4)
		binary.BigEndian.PutUint32(k, orderFloatBits32(math.Float32bits(v.Float())))
		return k
	case DoubleID:
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, orderFloatBits64(math.Float64bits(v.Double())))
		return k
	case CharID:
		k := make([]byte, len(v.data))
		copy(k, v.data)
		return k
	default:
		panic(fmt.Sprintf("types: OrderKey() on %s value", v.typ))
	}
}

// orderFloatBits32 maps IEEE-754 bits so unsigned comparison matches float
// ordering: flip the sign bit of positives, all bits of negatives.
func orderFloatBits32(b uint32) uint32 {
	if b&(1<<31) != 0 {
		return ^b
	}
	return b | (1 << 31)
}

func orderFloatBits64(b uint64) uint64 {
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | (1 << 63)
}

// String renders the value for diagnostics.
func (v Value) String() string {
	if v.typ == nil {
		return "<invalid>"
	}
	switch v.typ.id {
	case IntID:
		return fmt.Sprintf("%d", v.Int())
	case LongID:
		return fmt.Sprintf("%d", v.Long())
	case FloatID:
		return fmt.Sprintf("%g", v.Float())
	case DoubleID:
		return fmt.Sprintf("%g", v.Double())
	case CharID:
		return fmt.Sprintf("%q", v.CharString())
	default:
		return "<unknown>"
	}
}
