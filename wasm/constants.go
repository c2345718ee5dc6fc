package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs. Sections must appear in increasing order by ID.
const (
	SectionMemory byte = 5  // Memory section
	SectionExport byte = 7  // Export section
	SectionData   byte = 11 // Data section
)

// Export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Limits flags
const (
	LimitsNoMax  byte = 0x00
	LimitsHasMax byte = 0x01
)

// Constant expression opcodes used in data segment offsets.
const (
	OpEnd      byte = 0x0B
	OpI32Const byte = 0x41
)
