package datatype

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/wippyai/mpiwrap/errors"
)

const (
	wordSize  = int64(unsafe.Sizeof(uintptr(0)))
	longSize  = wordSize
	wcharSize = 4
)

var fixedSizes = map[Handle]int64{
	Char:             1,
	SignedChar:       1,
	UnsignedChar:     1,
	Byte:             1,
	WChar:            wcharSize,
	Short:            2,
	UnsignedShort:    2,
	Int:              4,
	Unsigned:         4,
	Long:             longSize,
	UnsignedLong:     longSize,
	LongLong:         8,
	UnsignedLongLong: 8,
	Float:            4,
	Double:           8,
	Packed:           1,
	CBool:            1,
	Int8:             1,
	Int16:            2,
	Int32:            4,
	Int64:            8,
	Uint8:            1,
	Uint16:           2,
	Uint32:           4,
	Uint64:           8,
	Aint:             wordSize,
	Offset:           8,
	Count:            8,
	Integer:          4,
	Real:             4,
	DoublePrecision:  8,
	Complex:          8,
	DoubleComplex:    16,
	Logical:          4,
	Character:        1,
	Integer1:         1,
	Integer2:         2,
	Integer4:         4,
	Integer8:         8,
	Real4:            4,
	Real8:            8,
}

// SizeOf returns the number of bytes one occurrence of a named leaf occupies.
// It returns 0 for pairs, bound markers and anything that is not a named leaf.
func SizeOf(h Handle) int64 {
	if h == LongDouble {
		return LongDoubleImageSize()
	}
	return fixedSizes[h]
}

// Alignment returns the natural alignment of a predefined datatype, or 1.
func Alignment(h Handle) int64 {
	switch h {
	case LongDouble:
		return longDoubleAlign
	case Complex:
		return 4
	case DoubleComplex:
		return 8
	}
	if p, ok := pairs[h]; ok {
		return p.align
	}
	if s := fixedSizes[h]; s > 0 {
		return s
	}
	return 1
}

// Part is one member of a value+index pair.
type Part struct {
	Offset int64
	Size   int64
}

type pairLayout struct {
	parts  [2]Part
	extent int64
	align  int64
}

var pairs = map[Handle]pairLayout{}

func init() {
	addPair := func(h Handle, valSize, valAlign, locOffset int64) {
		align := max(valAlign, 4)
		pairs[h] = pairLayout{
			parts:  [2]Part{{Offset: 0, Size: valSize}, {Offset: locOffset, Size: 4}},
			extent: alignUp(locOffset+4, align),
			align:  align,
		}
	}
	addPair(FloatInt, 4, 4, 4)
	addPair(DoubleInt, 8, 8, 8)
	addPair(LongInt, longSize, longSize, longSize)
	addPair(ShortInt, 2, 2, 4)
	addPair(TwoInt, 4, 4, 4)
}

// PairParts returns the two member ranges of a value+index pair type,
// relative to the start of one occurrence.
func PairParts(h Handle) ([2]Part, bool) {
	if h == LongDoubleInt {
		return [2]Part{
			{Offset: 0, Size: LongDoubleImageSize()},
			{Offset: longDoubleStorage, Size: 4},
		}, true
	}
	p, ok := pairs[h]
	return p.parts, ok
}

// IsPair reports whether h is one of the fixed value+index pair types.
func IsPair(h Handle) bool {
	if h == LongDoubleInt {
		return true
	}
	_, ok := pairs[h]
	return ok
}

func pairExtent(h Handle) int64 {
	if h == LongDoubleInt {
		return alignUp(longDoubleStorage+4, longDoubleAlign)
	}
	return pairs[h].extent
}

func alignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

const (
	probeSentinel = 0x55
	probeScratch  = 64
	probeOffset   = 16

	// none of its edge bytes equal the sentinel in any of the encodings
	probeValue = 1.0e-30
)

// plausibleLongDouble lists the image sizes a long double may have.
var plausibleLongDouble = map[int64]bool{8: true, 10: true, 16: true}

var longDoubleImage = sync.OnceValue(func() int64 {
	n, err := probeImageSize(storeLongDouble)
	if err != nil {
		panic(err)
	}
	return n
})

// LongDoubleImageSize returns the number of bytes a long double store
// actually touches on this platform. It is probed once per process.
func LongDoubleImageSize() int64 {
	return longDoubleImage()
}

// probeImageSize fills a scratch buffer with a sentinel, lets store write
// one value into its middle and measures the touched span from both edges.
func probeImageSize(store func(dst []byte, v float64)) (int64, error) {
	var scratch [probeScratch]byte
	for i := range scratch {
		scratch[i] = probeSentinel
	}

	store(scratch[probeOffset:probeScratch-probeOffset], probeValue)

	first := -1
	for i := 0; i < len(scratch); i++ {
		if scratch[i] != probeSentinel {
			first = i
			break
		}
	}
	last := -1
	for i := len(scratch) - 1; i >= 0; i-- {
		if scratch[i] != probeSentinel {
			last = i
			break
		}
	}
	if first < 0 {
		return 0, errors.Fatal(errors.PhaseProbe, "long double store touched no bytes")
	}
	if first < probeOffset || last >= probeScratch-probeOffset {
		return 0, errors.Fatal(errors.PhaseProbe, "long double store escaped its slot")
	}

	n := int64(last - first + 1)
	if !plausibleLongDouble[n] {
		return 0, errors.New(errors.PhaseProbe, errors.KindFatal).
			Value(n).
			Detail("implausible long double image size %d", n).
			Build()
	}
	return n, nil
}

func isLittleEndian() bool {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	return b[0] == 1
}
