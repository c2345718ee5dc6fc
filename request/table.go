package request

import (
	"sync"

	"github.com/wippyai/mpiwrap/datatype"
)

// Handle identifies an in-flight asynchronous operation.
type Handle uint64

// Null is the completed or absent request. It is never a live key.
const Null Handle = 0

// Pending is an outstanding receive whose buffer becomes defined on completion.
type Pending struct {
	Handle Handle
	Buffer uintptr
	Count  int
	Type   datatype.Handle
}

type slot struct {
	Pending
	inUse bool
}

// Table tracks outstanding asynchronous receives. It is a growable run of
// slots scanned linearly; each method holds the table lock only for its own
// duration. The zero value is ready to use.
type Table struct {
	slots []slot
	used  int
	mu    sync.Mutex
}

// NewTable creates a table with room for capacity entries before it grows.
func NewTable(capacity int) *Table {
	return &Table{slots: make([]slot, 0, max(capacity, 0))}
}

// Add records a pending receive. An in-use entry with the same handle is
// overwritten in place, otherwise the first free slot is reused, otherwise
// the table grows.
func (t *Table) Add(h Handle, buf uintptr, count int, ty datatype.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Pending{Handle: h, Buffer: buf, Count: count, Type: ty}

	free := -1
	for i := range t.slots {
		s := &t.slots[i]
		if s.inUse && s.Handle == h {
			s.Pending = p
			return
		}
		if !s.inUse && free < 0 {
			free = i
		}
	}

	if free < 0 {
		free = t.growLocked()
	}
	t.slots[free] = slot{Pending: p, inUse: true}
	t.used++
}

// growLocked makes room for one more slot and returns its index. Capacity
// doubles, starting from 2. Allocation failure is not recovered.
func (t *Table) growLocked() int {
	n := len(t.slots)
	if n == cap(t.slots) {
		grown := make([]slot, n, max(2*n, 2))
		copy(grown, t.slots)
		t.slots = grown
	}
	t.slots = t.slots[:n+1]
	return n
}

// Find returns a copy of the entry for h.
func (t *Table) Find(h Handle) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if s := &t.slots[i]; s.inUse && s.Handle == h {
			return s.Pending, true
		}
	}
	return Pending{}, false
}

// Delete retires the entry for h. Slots are not compacted.
func (t *Table) Delete(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if s := &t.slots[i]; s.inUse && s.Handle == h {
			*s = slot{}
			t.used--
			return
		}
	}
}

// CloneHandles copies a caller-owned handle array before a batch wait or
// test overwrites it in place.
func (t *Table) CloneHandles(handles []Handle) []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Handle, len(handles))
	copy(out, handles)
	return out
}

// Len returns the number of in-use entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Cap returns the number of allocated slots.
func (t *Table) Cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cap(t.slots)
}

// Snapshot returns the in-use entries in slot order.
func (t *Table) Snapshot() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Pending, 0, t.used)
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, t.slots[i].Pending)
		}
	}
	return out
}
