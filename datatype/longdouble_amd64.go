package datatype

const (
	longDoubleStorage = 16
	longDoubleAlign   = 16
)

func storeLongDouble(dst []byte, v float64) {
	putExtended80(dst, v)
}
