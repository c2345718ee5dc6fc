package mpiwrap

// Range is a contiguous span of the caller's address space.
type Range struct {
	Addr uintptr
	Len  uintptr
}

// End returns the first address past the range.
func (r Range) End() uintptr {
	return r.Addr + r.Len
}

// Checker is the host memory-safety checker. The wrapper layer only decides
// which ranges to hand it; the checker owns the actual validation state.
type Checker interface {
	// CheckDefined reports a violation if any byte in [addr, addr+n) is
	// not addressable or holds undefined data. Called before reads.
	CheckDefined(addr, n uintptr)

	// CheckAddressable reports a violation if any byte in [addr, addr+n)
	// may not be written. Called before writes.
	CheckAddressable(addr, n uintptr)

	// MarkDefinedIfAddressable marks the addressable bytes of
	// [addr, addr+n) as holding defined data.
	MarkDefinedIfAddressable(addr, n uintptr)
}

// EmitFunc receives one byte range discovered by a layout walk.
type EmitFunc func(Range)

// Discard is a Checker that accepts everything.
type Discard struct{}

func (Discard) CheckDefined(addr, n uintptr)             {}
func (Discard) CheckAddressable(addr, n uintptr)         {}
func (Discard) MarkDefinedIfAddressable(addr, n uintptr) {}
