package wasm

// Module is the subset of a WebAssembly module this package encodes.
type Module struct {
	Memories []MemoryType
	Exports  []Export
	Data     []DataSegment
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints in pages.
type Limits struct {
	Max *uint32
	Min uint32
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory or KindGlobal.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// DataSegment is an active segment copied into memory MemIdx at
// instantiation. Offset is a constant expression, see I32ConstExpr.
type DataSegment struct {
	Offset []byte
	Init   []byte
	MemIdx uint32
}
