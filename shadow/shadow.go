package shadow

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// state is the shadow of one byte.
type state uint8

const (
	noAccess state = iota
	undefined
	defined
)

// Kind classifies a violation.
type Kind uint8

const (
	Unaddressable Kind = iota + 1
	Uninitialised
)

func (k Kind) String() string {
	switch k {
	case Unaddressable:
		return "unaddressable"
	case Uninitialised:
		return "uninitialised"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Report is one detected violation. Addr is the first offending byte of
// the checked range [Start, Start+Len).
type Report struct {
	Op    string
	Kind  Kind
	Addr  uintptr
	Start uintptr
	Len   uintptr
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %s byte at %#x in [%#x, +%d)", r.Op, r.Kind, r.Addr, r.Start, r.Len)
}

// Memory tracks, for every byte of [0, size), whether it may be accessed
// and whether it holds defined data. Bytes start out inaccessible.
// Safe for concurrent use.
type Memory struct {
	bits    []state
	reports []Report
	mu      sync.Mutex
}

// New creates the shadow of a space of size bytes.
func New(size uintptr) *Memory {
	return &Memory{bits: make([]state, size)}
}

// Size returns the number of shadowed bytes.
func (m *Memory) Size() uintptr {
	return uintptr(len(m.bits))
}

// Allocate makes [addr, addr+n) accessible and undefined.
func (m *Memory) Allocate(addr, n uintptr) {
	m.set(addr, n, undefined)
}

// Free makes [addr, addr+n) inaccessible.
func (m *Memory) Free(addr, n uintptr) {
	m.set(addr, n, noAccess)
}

// MarkDefined makes [addr, addr+n) accessible and defined.
func (m *Memory) MarkDefined(addr, n uintptr) {
	m.set(addr, n, defined)
}

// MarkUndefined makes [addr, addr+n) accessible and undefined.
func (m *Memory) MarkUndefined(addr, n uintptr) {
	m.set(addr, n, undefined)
}

func (m *Memory) set(addr, n uintptr, s state) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := m.clip(addr, n)
	for i := lo; i < hi; i++ {
		m.bits[i] = s
	}
}

// clip intersects [addr, addr+n) with the shadowed span.
func (m *Memory) clip(addr, n uintptr) (uintptr, uintptr) {
	size := uintptr(len(m.bits))
	if addr >= size {
		return size, size
	}
	end := addr + n
	if end < addr || end > size {
		end = size
	}
	return addr, end
}

// CheckDefined records a violation if any byte of [addr, addr+n) is
// inaccessible or undefined.
func (m *Memory) CheckDefined(addr, n uintptr) {
	m.check("check_defined", addr, n, defined)
}

// CheckAddressable records a violation if any byte of [addr, addr+n) is
// inaccessible.
func (m *Memory) CheckAddressable(addr, n uintptr) {
	m.check("check_addressable", addr, n, undefined)
}

// MarkDefinedIfAddressable defines the accessible bytes of [addr, addr+n).
func (m *Memory) MarkDefinedIfAddressable(addr, n uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := m.clip(addr, n)
	for i := lo; i < hi; i++ {
		if m.bits[i] != noAccess {
			m.bits[i] = defined
		}
	}
}

func (m *Memory) check(op string, addr, n uintptr, want state) {
	if n == 0 {
		return
	}

	m.mu.Lock()
	r, bad := m.firstBelowLocked(addr, n, want)
	if bad {
		r.Op = op
		m.reports = append(m.reports, r)
	}
	m.mu.Unlock()

	if bad {
		Logger().Warn("shadow: invalid access",
			zap.String("op", op),
			zap.Stringer("kind", r.Kind),
			zap.Uintptr("addr", r.Addr),
			zap.Uintptr("start", addr),
			zap.Uintptr("len", n))
	}
}

func (m *Memory) firstBelowLocked(addr, n uintptr, want state) (Report, bool) {
	for a := addr; a-addr < n; a++ {
		s := noAccess
		if a < uintptr(len(m.bits)) {
			s = m.bits[a]
		}
		if s >= want {
			continue
		}
		k := Uninitialised
		if s == noAccess {
			k = Unaddressable
		}
		return Report{Kind: k, Addr: a, Start: addr, Len: n}, true
	}
	return Report{}, false
}

// Defined reports whether every byte of [addr, addr+n) is defined.
func (m *Memory) Defined(addr, n uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, bad := m.firstBelowLocked(addr, n, defined)
	return !bad
}

// Addressable reports whether every byte of [addr, addr+n) is accessible.
func (m *Memory) Addressable(addr, n uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, bad := m.firstBelowLocked(addr, n, undefined)
	return !bad
}

// Reports returns the violations recorded so far.
func (m *Memory) Reports() []Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Report(nil), m.reports...)
}

// Reset discards recorded violations.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = nil
}
