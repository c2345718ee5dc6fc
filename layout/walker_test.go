package layout

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
)

const base = uintptr(0x10000)

func collect(t *testing.T, w *Walker, h datatype.Handle, at uintptr, count int) []mpiwrap.Range {
	t.Helper()
	out, err := w.Collect(h, at, count)
	if err != nil {
		t.Fatalf("walk %s: %v", h, err)
	}
	return out
}

func totalLen(rs []mpiwrap.Range) uintptr {
	var n uintptr
	for _, r := range rs {
		n += r.Len
	}
	return n
}

func TestWalkArrayNamed(t *testing.T) {
	w := New(datatype.NewRegistry(), DefaultConfig())

	t.Run("fast_path", func(t *testing.T) {
		rs := collect(t, w, datatype.Double, base, 10)
		if len(rs) != 1 {
			t.Fatalf("got %d ranges, want 1", len(rs))
		}
		if rs[0] != (mpiwrap.Range{Addr: base, Len: 80}) {
			t.Errorf("got %+v", rs[0])
		}
	})

	t.Run("unaligned", func(t *testing.T) {
		rs := collect(t, w, datatype.Int, base+2, 3)
		want := []mpiwrap.Range{{Addr: base + 2, Len: 4}, {Addr: base + 6, Len: 4}, {Addr: base + 10, Len: 4}}
		if len(rs) != len(want) {
			t.Fatalf("got %d ranges, want %d", len(rs), len(want))
		}
		for i := range want {
			if rs[i] != want[i] {
				t.Errorf("range %d: got %+v, want %+v", i, rs[i], want[i])
			}
		}
	})

	t.Run("zero_count", func(t *testing.T) {
		calls := 0
		if err := w.WalkArray(datatype.Int, base, 0, func(mpiwrap.Range) { calls++ }); err != nil {
			t.Fatal(err)
		}
		if calls != 0 {
			t.Errorf("got %d callbacks, want 0", calls)
		}
	})

	t.Run("non_power_of_two", func(t *testing.T) {
		rs := collect(t, w, datatype.DoubleComplex, base, 2)
		if len(rs) != 2 || rs[1].Addr != base+16 || rs[1].Len != 16 {
			t.Errorf("got %+v", rs)
		}
	})
}

func TestWalkContiguous(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	for _, n := range []int{0, 1, 7, 100} {
		h, err := reg.Contiguous(n, datatype.Double)
		if err != nil {
			t.Fatal(err)
		}
		ext, _ := reg.Extent(datatype.Double)
		rs := collect(t, w, h, base, 1)
		if got, want := totalLen(rs), uintptr(int64(n)*ext); got != want {
			t.Errorf("n=%d: got %d bytes, want %d", n, got, want)
		}
		if n == 0 && len(rs) != 0 {
			t.Errorf("n=0: got %d callbacks", len(rs))
		}
	}
}

func TestWalkStruct(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	h, err := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: datatype.Double},
		{Count: 1, Offset: 8, Type: datatype.Int},
	})
	if err != nil {
		t.Fatal(err)
	}

	rs := collect(t, w, h, base, 1)
	want := []mpiwrap.Range{{Addr: base, Len: 8}, {Addr: base + 8, Len: 4}}
	if len(rs) != 2 {
		t.Fatalf("got %d ranges %+v, want 2", len(rs), rs)
	}
	for i := range want {
		if rs[i] != want[i] {
			t.Errorf("range %d: got %+v, want %+v", i, rs[i], want[i])
		}
	}

	// the second element starts one padded extent later
	rs = collect(t, w, h, base, 2)
	if len(rs) != 4 || rs[2].Addr != base+16 {
		t.Errorf("array of two: got %+v", rs)
	}
}

func TestWalkVector(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	h, err := reg.Vector(3, 2, 4, datatype.Int)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("unaligned_elementwise", func(t *testing.T) {
		b := base + 1
		rs := collect(t, w, h, b, 1)
		want := []mpiwrap.Range{
			{Addr: b, Len: 4}, {Addr: b + 4, Len: 4},
			{Addr: b + 16, Len: 4}, {Addr: b + 20, Len: 4},
			{Addr: b + 32, Len: 4}, {Addr: b + 36, Len: 4},
		}
		if len(rs) != len(want) {
			t.Fatalf("got %d ranges, want %d", len(rs), len(want))
		}
		for i := range want {
			if rs[i] != want[i] {
				t.Errorf("range %d: got %+v, want %+v", i, rs[i], want[i])
			}
		}
	})

	t.Run("aligned_blocks", func(t *testing.T) {
		rs := collect(t, w, h, base, 1)
		want := []mpiwrap.Range{{Addr: base, Len: 8}, {Addr: base + 16, Len: 8}, {Addr: base + 32, Len: 8}}
		if len(rs) != len(want) {
			t.Fatalf("got %d ranges, want %d", len(rs), len(want))
		}
		for i := range want {
			if rs[i] != want[i] {
				t.Errorf("range %d: got %+v, want %+v", i, rs[i], want[i])
			}
		}
	})

	t.Run("ordered_disjoint", func(t *testing.T) {
		rs := collect(t, w, h, base+1, 1)
		for i := 1; i < len(rs); i++ {
			if rs[i].Addr < rs[i-1].End() {
				t.Errorf("range %d overlaps or precedes range %d", i, i-1)
			}
		}
	})
}

func TestWalkHVectorIndexed(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	t.Run("hvector", func(t *testing.T) {
		h, _ := reg.HVector(2, 1, 24, datatype.Double)
		rs := collect(t, w, h, base, 1)
		want := []mpiwrap.Range{{Addr: base, Len: 8}, {Addr: base + 24, Len: 8}}
		if len(rs) != 2 || rs[0] != want[0] || rs[1] != want[1] {
			t.Errorf("got %+v, want %+v", rs, want)
		}
	})

	t.Run("indexed", func(t *testing.T) {
		h, _ := reg.Indexed([]int{2, 1}, []int{0, 5}, datatype.Short)
		rs := collect(t, w, h, base, 1)
		want := []mpiwrap.Range{{Addr: base, Len: 4}, {Addr: base + 10, Len: 2}}
		if len(rs) != 2 || rs[0] != want[0] || rs[1] != want[1] {
			t.Errorf("got %+v, want %+v", rs, want)
		}
	})

	t.Run("hindexed", func(t *testing.T) {
		h, _ := reg.HIndexed([]int{1, 3}, []int64{40, 0}, datatype.Float)
		rs := collect(t, w, h, base, 1)
		want := []mpiwrap.Range{{Addr: base, Len: 12}, {Addr: base + 40, Len: 4}}
		if len(rs) != 2 || rs[0] != want[0] || rs[1] != want[1] {
			t.Errorf("got %+v, want %+v", rs, want)
		}
	})
}

func TestWalkAscendingOffsets(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	rec, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 8, Type: datatype.Int},
		{Count: 1, Offset: 0, Type: datatype.Double},
	})
	backwards, _ := reg.Vector(3, 1, -2, datatype.Int)
	hback, _ := reg.HVector(2, 1, -16, datatype.Double)
	shuffled, _ := reg.Indexed([]int{1, 1}, []int{5, 0}, datatype.Int)

	b := base + 1
	tests := []struct {
		name string
		h    datatype.Handle
		at   uintptr
		want []mpiwrap.Range
	}{
		{
			name: "struct_fields_out_of_order",
			h:    rec,
			at:   base,
			want: []mpiwrap.Range{{Addr: base, Len: 8}, {Addr: base + 8, Len: 4}},
		},
		{
			name: "vector_negative_stride",
			h:    backwards,
			at:   b,
			want: []mpiwrap.Range{{Addr: b - 16, Len: 4}, {Addr: b - 8, Len: 4}, {Addr: b, Len: 4}},
		},
		{
			name: "hvector_negative_stride",
			h:    hback,
			at:   base,
			want: []mpiwrap.Range{{Addr: base - 16, Len: 8}, {Addr: base, Len: 8}},
		},
		{
			name: "indexed_unsorted_displacements",
			h:    shuffled,
			at:   b,
			want: []mpiwrap.Range{{Addr: b, Len: 4}, {Addr: b + 20, Len: 4}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rs := collect(t, w, tc.h, tc.at, 1)
			if len(rs) != len(tc.want) {
				t.Fatalf("got %d ranges %+v, want %d", len(rs), rs, len(tc.want))
			}
			for i := range tc.want {
				if rs[i] != tc.want[i] {
					t.Errorf("range %d: got %+v, want %+v", i, rs[i], tc.want[i])
				}
			}
			for i := 1; i < len(rs); i++ {
				if rs[i].Addr < rs[i-1].Addr {
					t.Errorf("range %d starts below range %d", i, i-1)
				}
			}
		})
	}
}

func TestWalkPairs(t *testing.T) {
	w := New(datatype.NewRegistry(), DefaultConfig())

	tests := []struct {
		h    datatype.Handle
		want []mpiwrap.Range
	}{
		{datatype.DoubleInt, []mpiwrap.Range{{Addr: base, Len: 8}, {Addr: base + 8, Len: 4}}},
		{datatype.FloatInt, []mpiwrap.Range{{Addr: base, Len: 4}, {Addr: base + 4, Len: 4}}},
		{datatype.ShortInt, []mpiwrap.Range{{Addr: base, Len: 2}, {Addr: base + 4, Len: 4}}},
		{datatype.TwoInt, []mpiwrap.Range{{Addr: base, Len: 4}, {Addr: base + 4, Len: 4}}},
	}

	for _, tc := range tests {
		t.Run(tc.h.String(), func(t *testing.T) {
			rs := collect(t, w, tc.h, base, 1)
			if len(rs) != 2 {
				t.Fatalf("got %d ranges, want 2", len(rs))
			}
			for i := range tc.want {
				if rs[i] != tc.want[i] {
					t.Errorf("range %d: got %+v, want %+v", i, rs[i], tc.want[i])
				}
			}
		})
	}
}

func TestWalkBoundMarkers(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	h, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: datatype.LB},
		{Count: 2, Offset: 0, Type: datatype.Int},
		{Count: 1, Offset: 16, Type: datatype.UB},
	})
	rs := collect(t, w, h, base, 1)
	if len(rs) != 1 || rs[0] != (mpiwrap.Range{Addr: base, Len: 8}) {
		t.Errorf("got %+v", rs)
	}
	if w.Complaints().Remaining() != DefaultComplaints {
		t.Error("bound markers should not be reported")
	}
}

func TestWalkNested(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	row, _ := reg.Vector(2, 1, 2, datatype.Int)
	rec, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: datatype.Char},
		{Count: 2, Offset: 4, Type: row},
	})

	// row spans [0,12) with ints at 0 and 8, extent 12
	rs := collect(t, w, rec, base, 1)
	want := []mpiwrap.Range{
		{Addr: base, Len: 1},
		{Addr: base + 4, Len: 4}, {Addr: base + 12, Len: 4},
		{Addr: base + 16, Len: 4}, {Addr: base + 24, Len: 4},
	}
	if len(rs) != len(want) {
		t.Fatalf("got %d ranges %+v, want %d", len(rs), rs, len(want))
	}
	for i := range want {
		if rs[i] != want[i] {
			t.Errorf("range %d: got %+v, want %+v", i, rs[i], want[i])
		}
	}

	size, err := w.Size(rec)
	if err != nil {
		t.Fatal(err)
	}
	if size != 17 {
		t.Errorf("Size: got %d, want 17", size)
	}
}

func TestWalkReleasesChildren(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	inner, _ := reg.Contiguous(3, datatype.Int)
	mid, _ := reg.Vector(2, 1, 2, inner)
	outer, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: mid},
		{Count: 1, Offset: 64, Type: datatype.DoubleInt},
		{Count: 2, Offset: 80, Type: inner},
	})

	before := map[datatype.Handle]int{inner: reg.Refs(inner), mid: reg.Refs(mid), outer: reg.Refs(outer)}
	for i := 0; i < 3; i++ {
		collect(t, w, outer, base, 2)
	}
	for h, n := range before {
		if got := reg.Refs(h); got != n {
			t.Errorf("%s refs: got %d, want %d", h, got, n)
		}
	}
}

func TestWalkUnhandled(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	dup, _ := reg.Dup(datatype.Int)
	resized, _ := reg.Resized(datatype.Int, 0, 8)
	block, _ := reg.IndexedBlock(1, []int{0, 2}, datatype.Int)

	rs := collect(t, w, dup, base, 1)
	if len(rs) != 0 {
		t.Errorf("dup: got %+v, want nothing", rs)
	}
	collect(t, w, dup, base, 1)
	if got := w.Complaints().Remaining(); got != DefaultComplaints-1 {
		t.Fatalf("repeat of the same kind spent budget: remaining %d", got)
	}

	collect(t, w, resized, base, 1)
	collect(t, w, block, base, 1)
	if got := w.Complaints().Remaining(); got != 0 {
		t.Fatalf("remaining: got %d, want 0", got)
	}

	collect(t, w, dup, base, 1)
	if logs.Len() != DefaultComplaints {
		t.Errorf("got %d diagnostics, want %d", logs.Len(), DefaultComplaints)
	}

	// unhandled kinds inside a struct are skipped, siblings still walked
	rec, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: dup},
		{Count: 1, Offset: 8, Type: datatype.Int},
	})
	rs = collect(t, w, rec, base, 1)
	if len(rs) != 1 || rs[0].Addr != base+8 {
		t.Errorf("got %+v", rs)
	}
}

func TestWalkSharedBudget(t *testing.T) {
	reg := datatype.NewRegistry()
	budget := NewComplaints(1)
	a := New(reg, Config{Complaints: budget})
	b := New(reg, Config{Complaints: budget})

	dup, _ := reg.Dup(datatype.Int)
	resized, _ := reg.Resized(datatype.Int, 0, 8)

	collect(t, a, dup, base, 1)
	collect(t, b, resized, base, 1)
	if budget.Remaining() != 0 {
		t.Errorf("remaining: got %d, want 0", budget.Remaining())
	}
}

func TestWalkBudgetFirstSighting(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	dup, _ := reg.Dup(datatype.Int)
	resized, _ := reg.Resized(datatype.Int, 0, 8)
	block, _ := reg.IndexedBlock(1, []int{0, 2}, datatype.Int)

	for _, h := range []datatype.Handle{dup, resized, dup, block} {
		collect(t, w, h, base, 1)
	}

	if got := w.Complaints().Remaining(); got != 0 {
		t.Errorf("remaining: got %d, want 0", got)
	}
	if logs.Len() != 3 {
		t.Fatalf("got %d diagnostics, want 3", logs.Len())
	}
	last := logs.All()[2].ContextMap()["combiner"]
	if last != datatype.CombinerIndexedBlock.String() {
		t.Errorf("third diagnostic: got %v, want %s", last, datatype.CombinerIndexedBlock)
	}
}

func TestWalkStrict(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, Config{Strict: true})

	inner, _ := reg.Contiguous(2, datatype.Int)
	dup, _ := reg.Dup(datatype.Int)
	rec, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: inner},
		{Count: 1, Offset: 8, Type: dup},
	})
	refs := reg.Refs(dup)

	_, err := w.Collect(rec, base, 1)
	if !errors.IsKind(err, errors.KindFatal) {
		t.Fatalf("want fatal error, got %v", err)
	}
	if !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("fatal error should wrap unsupported, got %v", err)
	}
	if got := reg.Refs(dup); got != refs {
		t.Errorf("child not released on error path: refs %d, want %d", got, refs)
	}
}

type malformed struct {
	*datatype.Registry
	freed int
}

func (m *malformed) Envelope(h datatype.Handle) (datatype.Envelope, error) {
	env, err := m.Registry.Envelope(h)
	if env.Combiner == datatype.CombinerVector {
		env.NumInts = 2
	}
	return env, err
}

func (m *malformed) Contents(h datatype.Handle) (datatype.Contents, error) {
	c, err := m.Registry.Contents(h)
	if len(c.Ints) == 3 {
		c.Ints = c.Ints[:2]
	}
	return c, err
}

func (m *malformed) Free(h datatype.Handle) error {
	m.freed++
	return m.Registry.Free(h)
}

func TestWalkMalformedEnvelope(t *testing.T) {
	reg := datatype.NewRegistry()
	inner, _ := reg.Contiguous(2, datatype.Int)
	vec, _ := reg.Vector(2, 1, 2, inner)

	m := &malformed{Registry: reg}
	w := New(m, DefaultConfig())

	_, err := w.Collect(vec, base, 1)
	if !errors.IsKind(err, errors.KindInvalidData) {
		t.Fatalf("want invalid data error, got %v", err)
	}
	if m.freed != 1 {
		t.Errorf("child released %d times, want 1", m.freed)
	}
}

func TestWalkFreedHandle(t *testing.T) {
	reg := datatype.NewRegistry()
	w := New(reg, DefaultConfig())

	h, _ := reg.Contiguous(2, datatype.Int)
	_ = reg.Free(h)

	if _, err := w.Collect(h, base, 1); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("got %v, want not found", err)
	}
}
