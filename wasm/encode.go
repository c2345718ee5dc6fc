package wasm

import (
	"github.com/wippyai/mpiwrap/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	// Magic number and version
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	// Memory section
	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	// Export section
	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	// Data section
	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			// flags 0 is active in memory 0, 2 names the memory
			if d.MemIdx == 0 {
				sec.WriteU32(0)
			} else {
				sec.WriteU32(2)
				sec.WriteU32(d.MemIdx)
			}
			sec.WriteBytes(d.Offset)
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max == nil {
		w.Byte(LimitsNoMax)
		w.WriteU32(l.Min)
		return
	}
	w.Byte(LimitsHasMax)
	w.WriteU32(l.Min)
	w.WriteU32(*l.Max)
}

// I32ConstExpr returns the constant expression "i32.const v; end".
func I32ConstExpr(v int32) []byte {
	out := []byte{OpI32Const}
	out = append(out, EncodeLEB128s(v)...)
	return append(out, OpEnd)
}
