// Package wasm encodes the small WebAssembly modules the address spaces in
// hostmem are built from.
//
// Only the sections a memory-only module needs are supported: memories,
// exports and active data segments.
//
//	max := uint32(4)
//	m := &wasm.Module{
//	    Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 4, Max: &max}}},
//	    Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory}},
//	    Data:     []wasm.DataSegment{{Offset: wasm.I32ConstExpr(0x100), Init: payload}},
//	}
//	bin := m.Encode()
package wasm
