package hostmem

import (
	"sync"

	"github.com/wippyai/mpiwrap/errors"
)

// Space is a flat simulated address space. Addresses are offsets from 0.
type Space interface {
	// Read returns n bytes at addr. The result may alias the space.
	Read(addr, n uintptr) ([]byte, error)
	// Write copies data to addr.
	Write(addr uintptr, data []byte) error
	// Size returns the number of addressable bytes.
	Size() uintptr
}

// Slice is a Space backed by a Go byte slice.
type Slice struct {
	buf []byte
	mu  sync.RWMutex
}

// NewSlice creates a zeroed space of size bytes.
func NewSlice(size uintptr) *Slice {
	return &Slice{buf: make([]byte, size)}
}

// Read implements Space. The returned bytes are a copy.
func (s *Slice) Read(addr, n uintptr) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !inBounds(addr, n, uintptr(len(s.buf))) {
		return nil, errors.OutOfBounds(errors.PhaseCheck, uint64(addr), uint64(n), uint64(len(s.buf)))
	}
	out := make([]byte, n)
	copy(out, s.buf[addr:addr+n])
	return out, nil
}

// Write implements Space.
func (s *Slice) Write(addr uintptr, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := uintptr(len(data))
	if !inBounds(addr, n, uintptr(len(s.buf))) {
		return errors.OutOfBounds(errors.PhaseCheck, uint64(addr), uint64(n), uint64(len(s.buf)))
	}
	copy(s.buf[addr:], data)
	return nil
}

// Size implements Space.
func (s *Slice) Size() uintptr {
	return uintptr(len(s.buf))
}

func inBounds(addr, n, size uintptr) bool {
	return addr <= size && n <= size-addr
}
