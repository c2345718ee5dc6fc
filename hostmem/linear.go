package hostmem

import (
	"context"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/wasm"
)

// PageSize is the size of one WebAssembly memory page.
const PageSize = 65536

// Linear adapts a wazero linear memory to Space.
type Linear struct {
	Mem api.Memory
	rt  wazero.Runtime
}

// Wrap adapts mem. It returns nil for a nil memory.
func Wrap(mem api.Memory) *Linear {
	if mem == nil {
		return nil
	}
	return &Linear{Mem: mem}
}

// NewWasm instantiates a module exporting one memory of the given number
// of pages, initialised from segs, and returns it as a Space. The memory
// cannot grow. Close releases the runtime.
func NewWasm(ctx context.Context, pages uint32, segs ...Segment) (*Linear, error) {
	if pages == 0 || pages > math.MaxUint16 {
		return nil, errors.InvalidInput(errors.PhaseCheck, "memory pages must be in [1, 65535]")
	}
	size := uint64(pages) * PageSize
	for _, seg := range segs {
		if uint64(seg.Addr)+uint64(len(seg.Data)) > size {
			return nil, errors.OutOfBounds(errors.PhaseCheck, uint64(seg.Addr), uint64(len(seg.Data)), size)
		}
	}

	rt := wazero.NewRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, memoryModule(pages, segs))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseCheck, errors.KindInvalidData, err, "compile memory module")
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseCheck, errors.KindInvalidData, err, "instantiate memory module")
	}

	l := Wrap(mod.ExportedMemory("memory"))
	if l == nil {
		_ = rt.Close(ctx)
		return nil, errors.NotFound(errors.PhaseCheck, "export", "memory")
	}
	l.rt = rt
	return l, nil
}

// Close releases the runtime created by NewWasm.
func (l *Linear) Close(ctx context.Context) error {
	if l.rt == nil {
		return nil
	}
	return l.rt.Close(ctx)
}

// Read implements Space. The returned bytes alias the linear memory.
func (l *Linear) Read(addr, n uintptr) ([]byte, error) {
	if addr > math.MaxUint32 || n > math.MaxUint32 {
		return nil, errors.OutOfBounds(errors.PhaseCheck, uint64(addr), uint64(n), uint64(l.Size()))
	}
	data, ok := l.Mem.Read(uint32(addr), uint32(n))
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseCheck, uint64(addr), uint64(n), uint64(l.Size()))
	}
	return data, nil
}

// Write implements Space.
func (l *Linear) Write(addr uintptr, data []byte) error {
	if addr > math.MaxUint32 || !l.Mem.Write(uint32(addr), data) {
		return errors.OutOfBounds(errors.PhaseCheck, uint64(addr), uint64(len(data)), uint64(l.Size()))
	}
	return nil
}

// Size implements Space.
func (l *Linear) Size() uintptr {
	return uintptr(l.Mem.Size())
}

// Segment is data copied into a new linear memory at Addr.
type Segment struct {
	Addr uint32
	Data []byte
}

// memoryModule encodes a module whose only content is an exported memory of
// exactly pages pages, preloaded with segs.
func memoryModule(pages uint32, segs []Segment) []byte {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: pages, Max: &pages}}},
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory}},
	}
	for _, seg := range segs {
		m.Data = append(m.Data, wasm.DataSegment{
			Offset: wasm.I32ConstExpr(int32(seg.Addr)),
			Init:   seg.Data,
		})
	}
	return m.Encode()
}
