//go:build (arm64 && !darwin && !ios && !windows) || riscv64 || s390x || ppc64 || ppc64le || loong64 || mips64 || mips64le

package datatype

const (
	longDoubleStorage = 16
	longDoubleAlign   = 16
)

func storeLongDouble(dst []byte, v float64) {
	putBinary128(dst, v)
}
