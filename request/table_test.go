package request

import (
	"sync"
	"testing"

	"github.com/wippyai/mpiwrap/datatype"
)

func TestTable_Basic(t *testing.T) {
	tab := NewTable(0)

	tab.Add(7, 0x1000, 10, datatype.Int)

	p, ok := tab.Find(7)
	if !ok {
		t.Fatal("Find failed after Add")
	}
	if p.Buffer != 0x1000 || p.Count != 10 || p.Type != datatype.Int {
		t.Fatalf("got %+v", p)
	}

	tab.Delete(7)
	if _, ok := tab.Find(7); ok {
		t.Fatal("Find succeeded after Delete")
	}

	// deleting again is harmless
	tab.Delete(7)
	if tab.Len() != 0 {
		t.Fatalf("Len: got %d, want 0", tab.Len())
	}
}

func TestTable_ReaddAfterDelete(t *testing.T) {
	tab := NewTable(4)

	tab.Add(1, 0x10, 1, datatype.Char)
	tab.Add(2, 0x20, 2, datatype.Char)
	tab.Delete(1)
	tab.Add(2, 0x30, 3, datatype.Double)
	tab.Add(1, 0x40, 4, datatype.Float)

	if tab.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", tab.Len())
	}
	seen := map[Handle]int{}
	for _, p := range tab.Snapshot() {
		seen[p.Handle]++
	}
	if seen[1] != 1 || seen[2] != 1 {
		t.Fatalf("expected one live entry per handle, got %v", seen)
	}

	p, _ := tab.Find(2)
	if p.Buffer != 0x30 || p.Count != 3 || p.Type != datatype.Double {
		t.Errorf("overwrite in place: got %+v", p)
	}

	// handle 1 reused the first freed slot
	if snap := tab.Snapshot(); snap[0].Handle != 1 {
		t.Errorf("slot 0: got handle %d, want 1", snap[0].Handle)
	}
}

func TestTable_Growth(t *testing.T) {
	tab := NewTable(0)
	if tab.Cap() != 0 {
		t.Fatalf("Cap: got %d, want 0", tab.Cap())
	}

	tab.Add(1, 1, 1, datatype.Int)
	if tab.Cap() != 2 {
		t.Fatalf("first growth: got cap %d, want 2", tab.Cap())
	}

	const k = 100
	for i := 2; i <= k; i++ {
		tab.Add(Handle(i), uintptr(i*16), i, datatype.Double)
	}
	if tab.Cap() != 128 {
		t.Errorf("Cap: got %d, want 128", tab.Cap())
	}
	if tab.Len() != k {
		t.Fatalf("Len: got %d, want %d", tab.Len(), k)
	}

	for i := 2; i <= k; i++ {
		p, ok := tab.Find(Handle(i))
		if !ok {
			t.Fatalf("handle %d lost after growth", i)
		}
		if p.Buffer != uintptr(i*16) || p.Count != i || p.Type != datatype.Double {
			t.Errorf("handle %d: got %+v", i, p)
		}
	}
}

func TestTable_FreeSlotsBeforeGrowth(t *testing.T) {
	tab := NewTable(0)
	for i := 1; i <= 4; i++ {
		tab.Add(Handle(i), 0, 1, datatype.Int)
	}
	tab.Delete(2)
	tab.Delete(3)
	tab.Add(5, 0, 1, datatype.Int)
	tab.Add(6, 0, 1, datatype.Int)

	if tab.Cap() != 4 {
		t.Errorf("Cap: got %d, want 4", tab.Cap())
	}
}

func TestTable_CloneHandles(t *testing.T) {
	tab := NewTable(0)
	in := []Handle{3, Null, 9}

	out := tab.CloneHandles(in)
	in[0] = Null

	if len(out) != 3 || out[0] != 3 || out[1] != Null || out[2] != 9 {
		t.Errorf("got %v", out)
	}
}

func TestTable_ZeroValue(t *testing.T) {
	var tab Table
	tab.Add(1, 0x8, 2, datatype.Short)
	if _, ok := tab.Find(1); !ok {
		t.Fatal("zero-value table lost entry")
	}
}

func TestTable_Concurrent(t *testing.T) {
	tab := NewTable(0)

	const workers, per = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				h := Handle(w*per + i + 1)
				tab.Add(h, uintptr(h), i, datatype.Int)
				if p, ok := tab.Find(h); !ok || p.Buffer != uintptr(h) {
					t.Errorf("handle %d: got %+v %v", h, p, ok)
					return
				}
				if i%2 == 0 {
					tab.Delete(h)
				}
			}
		}(w)
	}
	wg.Wait()

	if got, want := tab.Len(), workers*per/2; got != want {
		t.Errorf("Len: got %d, want %d", got, want)
	}
}
