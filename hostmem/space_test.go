package hostmem

import (
	"bytes"
	"context"
	"testing"

	"github.com/wippyai/mpiwrap/errors"
)

// oneMemoryPage is the module memoryModule(1, nil) must produce.
var oneMemoryPage = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x04, 0x01, 0x01, 0x01, 0x01, // memory section: 1 page, max 1
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // "memory"
	0x02, 0x00, // kind: memory, index 0
}

func TestMemoryModule(t *testing.T) {
	if got := memoryModule(1, nil); !bytes.Equal(got, oneMemoryPage) {
		t.Errorf("got % x\nwant % x", got, oneMemoryPage)
	}

	// 200 pages needs a two-byte LEB128 for both limits
	got := memoryModule(200, nil)
	if !bytes.Equal(got[8:16], []byte{0x05, 0x06, 0x01, 0x01, 0xc8, 0x01, 0xc8, 0x01}) {
		t.Errorf("memory section: got % x", got[8:16])
	}

	got = memoryModule(1, []Segment{{Addr: 0x100, Data: []byte{7, 8}}})
	data := []byte{0x0b, 0x09, 0x01, 0x00, 0x41, 0x80, 0x02, 0x0b, 0x02, 0x07, 0x08}
	if !bytes.HasSuffix(got, data) {
		t.Errorf("data section: got % x", got[len(oneMemoryPage):])
	}
}

func testSpace(t *testing.T, s Space) {
	t.Helper()

	if err := s.Write(16, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := s.Read(16, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Errorf("got %v", data)
	}

	size := s.Size()
	if _, err := s.Read(size-2, 4); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("read past end: got %v", err)
	}
	if err := s.Write(size, []byte{1}); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("write past end: got %v", err)
	}
	if _, err := s.Read(size, 0); err != nil {
		t.Errorf("empty read at end: %v", err)
	}
}

func TestSlice(t *testing.T) {
	s := NewSlice(256)
	if s.Size() != 256 {
		t.Fatalf("Size: got %d, want 256", s.Size())
	}
	testSpace(t, s)

	// reads are copies
	data, _ := s.Read(16, 1)
	data[0] = 99
	again, _ := s.Read(16, 1)
	if again[0] != 1 {
		t.Error("Read aliased the backing slice")
	}
}

func TestLinear(t *testing.T) {
	ctx := context.Background()
	l, err := NewWasm(ctx, 2)
	if err != nil {
		t.Fatalf("NewWasm failed: %v", err)
	}
	defer l.Close(ctx)

	if l.Size() != 2*PageSize {
		t.Fatalf("Size: got %d, want %d", l.Size(), 2*PageSize)
	}
	testSpace(t, l)
}

func TestNewWasm_Segments(t *testing.T) {
	ctx := context.Background()
	l, err := NewWasm(ctx, 1, Segment{Addr: 0x20, Data: []byte{1, 2, 3}}, Segment{Addr: PageSize - 1, Data: []byte{9}})
	if err != nil {
		t.Fatalf("NewWasm failed: %v", err)
	}
	defer l.Close(ctx)

	got, _ := l.Read(0x1f, 5)
	if !bytes.Equal(got, []byte{0, 1, 2, 3, 0}) {
		t.Errorf("first segment: got %v", got)
	}
	got, _ = l.Read(PageSize-1, 1)
	if got[0] != 9 {
		t.Errorf("last byte: got %d, want 9", got[0])
	}

	if _, ok := l.Mem.Grow(1); ok || l.Size() != PageSize {
		t.Errorf("memory grew to %d bytes", l.Size())
	}

	_, err = NewWasm(ctx, 1, Segment{Addr: PageSize - 1, Data: []byte{1, 2}})
	if !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("segment past end: got %v", err)
	}
}

func TestNewWasm_InvalidPages(t *testing.T) {
	if _, err := NewWasm(context.Background(), 0); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("got %v", err)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("expected nil for nil memory")
	}
}
