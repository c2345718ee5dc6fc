package datatype

import "fmt"

// Handle identifies a datatype owned by an Introspector.
// Handle 0 is the null datatype and never names a live type.
type Handle uint32

// Null is the null datatype handle.
const Null Handle = 0

// Predefined named datatypes. Their values are fixed so that sizes and
// pair layouts can be resolved without consulting an Introspector.
const (
	Char Handle = iota + 1
	SignedChar
	UnsignedChar
	Byte
	WChar
	Short
	UnsignedShort
	Int
	Unsigned
	Long
	UnsignedLong
	LongLong
	UnsignedLongLong
	Float
	Double
	LongDouble
	Packed
	CBool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Aint
	Offset
	Count

	// Fortran
	Integer
	Real
	DoublePrecision
	Complex
	DoubleComplex
	Logical
	Character
	Integer1
	Integer2
	Integer4
	Integer8
	Real4
	Real8

	// value+index pairs used by MINLOC/MAXLOC
	FloatInt
	DoubleInt
	LongInt
	ShortInt
	TwoInt
	LongDoubleInt

	// zero-extent bound markers
	LB
	UB

	lastPredefined
)

// FirstDerived is the lowest handle a Registry assigns to constructed types.
const FirstDerived Handle = 64

var names = map[Handle]string{
	Char:             "char",
	SignedChar:       "signed_char",
	UnsignedChar:     "unsigned_char",
	Byte:             "byte",
	WChar:            "wchar",
	Short:            "short",
	UnsignedShort:    "unsigned_short",
	Int:              "int",
	Unsigned:         "unsigned",
	Long:             "long",
	UnsignedLong:     "unsigned_long",
	LongLong:         "long_long",
	UnsignedLongLong: "unsigned_long_long",
	Float:            "float",
	Double:           "double",
	LongDouble:       "long_double",
	Packed:           "packed",
	CBool:            "c_bool",
	Int8:             "int8_t",
	Int16:            "int16_t",
	Int32:            "int32_t",
	Int64:            "int64_t",
	Uint8:            "uint8_t",
	Uint16:           "uint16_t",
	Uint32:           "uint32_t",
	Uint64:           "uint64_t",
	Aint:             "aint",
	Offset:           "offset",
	Count:            "count",
	Integer:          "integer",
	Real:             "real",
	DoublePrecision:  "double_precision",
	Complex:          "complex",
	DoubleComplex:    "double_complex",
	Logical:          "logical",
	Character:        "character",
	Integer1:         "integer1",
	Integer2:         "integer2",
	Integer4:         "integer4",
	Integer8:         "integer8",
	Real4:            "real4",
	Real8:            "real8",
	FloatInt:         "float_int",
	DoubleInt:        "double_int",
	LongInt:          "long_int",
	ShortInt:         "short_int",
	TwoInt:           "2int",
	LongDoubleInt:    "long_double_int",
	LB:               "lb",
	UB:               "ub",
}

// IsPredefined reports whether h is one of the named datatypes above.
func IsPredefined(h Handle) bool {
	return h > Null && h < lastPredefined
}

// Lookup resolves a predefined datatype by its name.
func Lookup(name string) (Handle, bool) {
	for h, n := range names {
		if n == name {
			return h, true
		}
	}
	return Null, false
}

func (h Handle) String() string {
	if n, ok := names[h]; ok {
		return n
	}
	if h == Null {
		return "null"
	}
	return fmt.Sprintf("type#%d", uint32(h))
}
