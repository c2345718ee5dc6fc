package datatype

import (
	"encoding/binary"
	"math"
)

// float64 fields widened to the 15-bit exponent shared by x87 extended
// and IEEE binary128.
func widen(v float64) (sign, exp, frac uint64) {
	bits := math.Float64bits(v)
	sign = bits >> 63
	e := (bits >> 52) & 0x7ff
	frac = bits & (1<<52 - 1)
	switch {
	case e == 0 && frac == 0:
		return sign, 0, 0
	case e == 0x7ff:
		return sign, 0x7fff, frac
	case e == 0:
		// subnormal: normalise into the wider exponent range
		shift := uint64(0)
		for frac&(1<<52) == 0 {
			frac <<= 1
			shift++
		}
		frac &= 1<<52 - 1
		return sign, 16383 - 1022 - shift, frac
	default:
		return sign, e - 1023 + 16383, frac
	}
}

// putExtended80 writes the x87 80-bit extended image of v.
func putExtended80(dst []byte, v float64) {
	sign, exp, frac := widen(v)
	mant := frac << 11
	if exp != 0 {
		mant |= 1 << 63
	}
	binary.LittleEndian.PutUint64(dst[0:8], mant)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(sign<<15|exp))
}

// putBinary128 writes the IEEE quad precision image of v in native order.
func putBinary128(dst []byte, v float64) {
	sign, exp, frac := widen(v)
	hi := sign<<63 | exp<<48 | frac>>4
	lo := frac << 60
	if isLittleEndian() {
		binary.LittleEndian.PutUint64(dst[0:8], lo)
		binary.LittleEndian.PutUint64(dst[8:16], hi)
		return
	}
	binary.BigEndian.PutUint64(dst[0:8], hi)
	binary.BigEndian.PutUint64(dst[8:16], lo)
}

// putBinary64 writes v as a plain double.
func putBinary64(dst []byte, v float64) {
	binary.NativeEndian.PutUint64(dst[0:8], math.Float64bits(v))
}
