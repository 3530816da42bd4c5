package types

import "fmt"

// TypeID identifies one of the built-in attribute types.
type TypeID int

const (
	// IntID is a 32-bit signed integer.
	IntID TypeID = iota
	// LongID is a 64-bit signed integer.
	LongID
	// FloatID is a 32-bit IEEE-754 float.
	FloatID
	// DoubleID is a 64-bit IEEE-754 float.
	DoubleID
	// CharID is a fixed-length character string padded with NUL bytes.
	CharID
)

// String returns the SQL-ish name of the type id.
func (id TypeID) String() string {
	switch id {
	case IntID:
		return "int"
	case LongID:
		return "long"
	case FloatID:
		return "float"
	case DoubleID:
		return "double"
	case CharID:
		return "char"
	default:
		return fmt.Sprintf("TypeID(%d)", int(id))
	}
}

// Type describes an attribute type: identity, byte lengths and nullability.
// Type values are interned; obtain them from Int(), Long(), Float(), Double()
// and Char(n) and compare them by pointer.
type Type struct {
	id       TypeID
	width    int
	nullable bool
}

var (
	intNonNull    = &Type{id: IntID, width: 4}
	intNull       = &Type{id: IntID, width: 4, nullable: true}
	longNonNull   = &Type{id: LongID, width: 8}
	longNull      = &Type{id: LongID, width: 8, nullable: true}
	floatNonNull  = &Type{id: FloatID, width: 4}
	floatNull     = &Type{id: FloatID, width: 4, nullable: true}
	doubleNonNull = &Type{id: DoubleID, width: 8}
	doubleNull    = &Type{id: DoubleID, width: 8, nullable: true}

	// charNonNull and charNull intern Char instances by length. Char columns in this
	// engine are bounded; lazily populating a small map keeps the
	// process-wide registry immutable after first use per length.
	charNonNull = map[int]*Type{}
	charNull    = map[int]*Type{}
)

// Int returns the non-nullable 32-bit integer type.
func Int() *Type { return intNonNull }

// Long returns the non-nullable 64-bit integer type.
func Long() *Type { return longNonNull }

// Float returns the non-nullable 32-bit float type.
func Float() *Type { return floatNonNull }

// Double returns the non-nullable 64-bit float type.
func Double() *Type { return doubleNonNull }

// Char returns the non-nullable fixed-length string type of n bytes.
func Char(n int) *Type {
	if n <= 0 {
		panic(fmt.Sprintf("types: Char length must be positive, got %d", n))
	}
	if t, ok := charNonNull[n]; ok {
		return t
	}
	t := &Type{id: CharID, width: n}
	charNonNull[n] = t
	return t
}

// Nullable returns the nullable variant of t.
func Nullable(t *Type) *Type {
	switch t.id {
	case IntID:
		return intNull
	case LongID:
		return longNull
	case FloatID:
		return floatNull
	case DoubleID:
		return doubleNull
	case CharID:
		if nt, ok := charNull[t.width]; ok {
			return nt
		}
		nt := &Type{id: CharID, width: t.width, nullable: true}
		charNull[t.width] = nt
		return nt
	default:
		panic(fmt.Sprintf("types: unknown TypeID %d", int(t.id)))
	}
}

// ID returns the type's identity.
func (t *Type) ID() TypeID { return t.id }

// IsNullable reports whether values of this type may be null.
func (t *Type) IsNullable() bool { return t.nullable }

// IsVariableLength reports whether values have a variable byte length. All
// built-in types are fixed-length; the method exists because sub-block
// validity checks are defined in terms of it.
func (t *Type) IsVariableLength() bool { return false }

// MaxByteLength returns the maximum serialized length of a value.
func (t *Type) MaxByteLength() int { return t.width }

// MinByteLength returns the minimum serialized length of a value.
func (t *Type) MinByteLength() int { return t.width }

// AverageByteLength returns the estimated average serialized length.
func (t *Type) AverageByteLength() int { return t.width }

// IsOrderable reports whether values of this type have a total order with
// themselves. Required of sort keys and predicate columns.
func (t *Type) IsOrderable() bool { return true }

// IsInteger reports whether this is one of the integer types, which are the
// only types eligible for truncation compression.
func (t *Type) IsInteger() bool { return t.id == IntID || t.id == LongID }

// Equals reports whether t and other are the same type, ignoring nullability.
func (t *Type) Equals(other *Type) bool {
	return t.id == other.id && t.width == other.width
}

// String renders the type for diagnostics.
func (t *Type) String() string {
	s := t.id.String()
	if t.id == CharID {
		s = fmt.Sprintf("char(%d)", t.width)
	}
	if t.nullable {
		s += " null"
	}
	return s
}
