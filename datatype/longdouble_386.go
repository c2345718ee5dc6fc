package datatype

const (
	longDoubleStorage = 12
	longDoubleAlign   = 4
)

func storeLongDouble(dst []byte, v float64) {
	putExtended80(dst, v)
}
