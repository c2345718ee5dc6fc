//go:build !386 && !amd64 && !((arm64 && !darwin && !ios && !windows) || riscv64 || s390x || ppc64 || ppc64le || loong64 || mips64 || mips64le)

package datatype

// long double is an alias for double on these targets.
const (
	longDoubleStorage = 8
	longDoubleAlign   = 8
)

func storeLongDouble(dst []byte, v float64) {
	putBinary64(dst, v)
}
