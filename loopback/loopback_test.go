package loopback

import (
	"context"
	"encoding/binary"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/hostmem"
	"github.com/wippyai/mpiwrap/request"
)

const region = 0x1000

func newWorld(t *testing.T, size int) (*World, *datatype.Registry) {
	t.Helper()
	reg := datatype.NewRegistry()
	return NewWorld(size, hostmem.NewSlice(uintptr(size)*region), reg), reg
}

func putInts(t *testing.T, w *World, addr uintptr, vals ...int32) {
	t.Helper()
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	if err := w.Space().Write(addr, buf); err != nil {
		t.Fatal(err)
	}
}

func getInts(t *testing.T, w *World, addr uintptr, n int) []int32 {
	t.Helper()
	buf, err := w.Space().Read(addr, uintptr(4*n))
	if err != nil {
		t.Fatal(err)
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

func equalInts(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSendRecv(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)
	r0, r1 := w.Rank(0), w.Rank(1)

	putInts(t, w, 0, 1, 2, 3, 4)
	if err := r0.Send(ctx, mpiwrap.Standard, 0, 4, datatype.Int, 1, 7); err != nil {
		t.Fatal(err)
	}

	var st mpiwrap.Status
	if err := r1.Recv(ctx, region, 10, datatype.Int, 0, 7, &st); err != nil {
		t.Fatal(err)
	}
	if st.Source != 0 || st.Tag != 7 || st.Bytes != 16 || st.Error != mpiwrap.Success {
		t.Errorf("status: got %+v", st)
	}
	n, err := r1.Count(&st, datatype.Int)
	if err != nil || n != 4 {
		t.Errorf("Count: got %d %v, want 4", n, err)
	}
	if got := getInts(t, w, region, 5); !equalInts(got, []int32{1, 2, 3, 4, 0}) {
		t.Errorf("received %v", got)
	}
}

func TestPostedBeforeSend(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)

	h, err := w.Rank(1).Irecv(ctx, region, 2, datatype.Int, mpiwrap.AnySource, mpiwrap.AnyTag)
	if err != nil {
		t.Fatal(err)
	}
	if done, _ := w.Rank(1).Test(ctx, &h, nil); done {
		t.Fatal("receive completed before any send")
	}

	putInts(t, w, 0, 5, 6)
	if err := w.Rank(0).Send(ctx, mpiwrap.Buffered, 0, 2, datatype.Int, 1, 3); err != nil {
		t.Fatal(err)
	}

	var st mpiwrap.Status
	done, err := w.Rank(1).Test(ctx, &h, &st)
	if err != nil || !done {
		t.Fatalf("Test: got %v %v", done, err)
	}
	if h != request.Null {
		t.Error("completed handle not nulled")
	}
	if st.Tag != 3 || !equalInts(getInts(t, w, region, 2), []int32{5, 6}) {
		t.Errorf("got status %+v", st)
	}
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)

	putInts(t, w, 0, 1, 2, 3, 4, 5, 6)
	_ = w.Rank(0).Send(ctx, mpiwrap.Standard, 0, 6, datatype.Int, 1, 0)

	var st mpiwrap.Status
	err := w.Rank(1).Recv(ctx, region, 4, datatype.Int, 0, 0, &st)
	if !errors.IsKind(err, errors.KindTruncated) {
		t.Fatalf("want truncation, got %v", err)
	}
	if st.Error != mpiwrap.ErrTruncate || st.Bytes != 16 {
		t.Errorf("status: got %+v", st)
	}
	if got := getInts(t, w, region, 5); !equalInts(got, []int32{1, 2, 3, 4, 0}) {
		t.Errorf("wrote past capacity: %v", got)
	}
}

func TestDerivedPacking(t *testing.T) {
	ctx := context.Background()
	w, reg := newWorld(t, 2)

	// every other int of a 6-int array
	col, _ := reg.Vector(3, 1, 2, datatype.Int)
	putInts(t, w, 0, 10, -1, 20, -1, 30, -1)

	if err := w.Rank(0).Send(ctx, mpiwrap.Standard, 0, 1, col, 1, 0); err != nil {
		t.Fatal(err)
	}
	var st mpiwrap.Status
	if err := w.Rank(1).Recv(ctx, region, 3, datatype.Int, 0, 0, &st); err != nil {
		t.Fatal(err)
	}
	if got := getInts(t, w, region, 3); !equalInts(got, []int32{10, 20, 30}) {
		t.Errorf("got %v", got)
	}
	if n, _ := w.Rank(1).Count(&st, col); n != 1 {
		t.Errorf("Count in columns: got %d, want 1", n)
	}
}

func TestMatching(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 3)

	putInts(t, w, 0, 1)
	putInts(t, w, region, 2)
	_ = w.Rank(0).Send(ctx, mpiwrap.Standard, 0, 1, datatype.Int, 2, 5)
	_ = w.Rank(1).Send(ctx, mpiwrap.Standard, region, 1, datatype.Int, 2, 6)

	// specific source skips the earlier message from rank 0
	var st mpiwrap.Status
	if err := w.Rank(2).Recv(ctx, 2*region, 1, datatype.Int, 1, mpiwrap.AnyTag, &st); err != nil {
		t.Fatal(err)
	}
	if st.Source != 1 || getInts(t, w, 2*region, 1)[0] != 2 {
		t.Errorf("got %+v", st)
	}

	if err := w.Rank(2).Recv(ctx, 2*region, 1, datatype.Int, mpiwrap.AnySource, 5, &st); err != nil {
		t.Fatal(err)
	}
	if st.Source != 0 {
		t.Errorf("got %+v", st)
	}
}

func TestWildcardSkipsCollectives(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)

	putInts(t, w, 0, 9)
	if err := w.Rank(0).Bcast(ctx, 0, 1, datatype.Int, 0); err != nil {
		t.Fatal(err)
	}
	h, _ := w.Rank(1).Irecv(ctx, region, 1, datatype.Int, mpiwrap.AnySource, mpiwrap.AnyTag)
	if done, _ := w.Rank(1).Test(ctx, &h, nil); done {
		t.Fatal("wildcard receive matched a collective message")
	}
	if err := w.Rank(1).Bcast(ctx, region+16, 1, datatype.Int, 0); err != nil {
		t.Fatal(err)
	}
	if got := getInts(t, w, region+16, 1)[0]; got != 9 {
		t.Errorf("bcast: got %d", got)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)
	r1 := w.Rank(1)

	h, _ := r1.Irecv(ctx, region, 1, datatype.Int, 0, 0)
	if err := r1.Cancel(ctx, &h); err != nil {
		t.Fatal(err)
	}
	var st mpiwrap.Status
	if err := r1.Wait(ctx, &h, &st); err != nil {
		t.Fatal(err)
	}
	if !st.Cancelled || st.Bytes != 0 {
		t.Errorf("status: got %+v", st)
	}

	// the message now waits for the next receive
	putInts(t, w, 0, 4)
	_ = w.Rank(0).Send(ctx, mpiwrap.Standard, 0, 1, datatype.Int, 1, 0)
	h, _ = r1.Irecv(ctx, region, 1, datatype.Int, 0, 0)
	if err := r1.Cancel(ctx, &h); err != nil {
		t.Fatal(err)
	}
	if err := r1.Wait(ctx, &h, &st); err != nil {
		t.Fatal(err)
	}
	if st.Cancelled || st.Bytes != 4 {
		t.Errorf("cancel of matched receive: got %+v", st)
	}

	bogus := request.Handle(999)
	if err := r1.Cancel(ctx, &bogus); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("unknown handle: got %v", err)
	}
}

func TestSynchronousSend(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)

	putInts(t, w, 0, 1)
	sh, err := w.Rank(0).Isend(ctx, mpiwrap.Synchronous, 0, 1, datatype.Int, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if done, _ := w.Rank(0).Test(ctx, &sh, nil); done {
		t.Fatal("synchronous send completed before being matched")
	}
	if err := w.Rank(1).Recv(ctx, region, 1, datatype.Int, 0, 0, nil); err != nil {
		t.Fatal(err)
	}
	if done, _ := w.Rank(0).Test(ctx, &sh, nil); !done {
		t.Fatal("synchronous send not complete after match")
	}
}

func TestBatchCompletion(t *testing.T) {
	ctx := context.Background()
	w, _ := newWorld(t, 2)
	r1 := w.Rank(1)

	hs := make([]request.Handle, 3)
	for i := range hs {
		hs[i], _ = r1.Irecv(ctx, region+uintptr(16*i), 2, datatype.Int, 0, i)
	}

	if done, _ := r1.Testall(ctx, hs, nil); done {
		t.Fatal("Testall done with nothing sent")
	}
	if idx, done, _ := r1.Testany(ctx, hs, nil); done || idx != mpiwrap.Undefined {
		t.Fatalf("Testany: got %d %v", idx, done)
	}

	putInts(t, w, 0, 1, 2, 3, 4, 5, 6)
	_ = w.Rank(0).Send(ctx, mpiwrap.Standard, 8, 1, datatype.Int, 1, 1)

	var st mpiwrap.Status
	idx, err := r1.Waitany(ctx, hs, &st)
	if err != nil || idx != 1 {
		t.Fatalf("Waitany: got %d %v, want 1", idx, err)
	}
	if hs[1] != request.Null || st.Bytes != 4 {
		t.Errorf("after Waitany: handles %v status %+v", hs, st)
	}

	_ = w.Rank(0).Send(ctx, mpiwrap.Standard, 0, 2, datatype.Int, 1, 0)
	_ = w.Rank(0).Send(ctx, mpiwrap.Standard, 0, 3, datatype.Int, 1, 2)

	sts := make([]mpiwrap.Status, 3)
	err = r1.Waitall(ctx, hs, sts)
	if !errors.IsKind(err, errors.KindInStatus) {
		t.Fatalf("Waitall: want error in status, got %v", err)
	}
	if sts[0].Error != mpiwrap.Success || sts[2].Error != mpiwrap.ErrTruncate {
		t.Errorf("statuses: %+v", sts)
	}
	if sts[1].Source != mpiwrap.AnySource {
		t.Errorf("null request status: %+v", sts[1])
	}
	for i, h := range hs {
		if h != request.Null {
			t.Errorf("handle %d not nulled", i)
		}
	}

	if idx, err := r1.Waitany(ctx, hs, nil); idx != mpiwrap.Undefined || err != nil {
		t.Errorf("Waitany over nulls: got %d %v", idx, err)
	}
}

func TestWaitInterrupted(t *testing.T) {
	w, _ := newWorld(t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	h, _ := w.Rank(1).Irecv(ctx, region, 1, datatype.Int, 0, 0)
	cancel()
	if err := w.Rank(1).Wait(ctx, &h, nil); !errors.IsKind(err, errors.KindCanceled) {
		t.Errorf("got %v", err)
	}
	if h == request.Null {
		t.Error("interrupted wait nulled the handle")
	}
}

func TestCount(t *testing.T) {
	w, reg := newWorld(t, 1)
	r := w.Rank(0)
	pair, _ := reg.Struct([]datatype.StructField{
		{Count: 1, Offset: 0, Type: datatype.Double},
		{Count: 1, Offset: 8, Type: datatype.Int},
	})

	tests := []struct {
		bytes int64
		ty    datatype.Handle
		want  int
		fails bool
	}{
		{0, datatype.Int, 0, false},
		{24, datatype.Int, 6, false},
		{6, datatype.Int, 0, true},
		{24, pair, 2, false},
		{16, pair, 0, true},
	}
	for _, tt := range tests {
		n, err := r.Count(&mpiwrap.Status{Bytes: tt.bytes}, tt.ty)
		if (err != nil) != tt.fails || n != tt.want {
			t.Errorf("Count(%d, %s): got %d %v", tt.bytes, tt.ty, n, err)
		}
	}
}

func TestCollectives(t *testing.T) {
	const size = 4
	w, _ := newWorld(t, size)
	for i := 0; i < size; i++ {
		putInts(t, w, uintptr(i)*region, int32(i+1), int32(10*(i+1)))
	}
	putInts(t, w, 3*region+0x300, 77)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < size; i++ {
		r := w.Rank(i)
		base := uintptr(i) * region
		g.Go(func() error {
			if err := r.Allreduce(ctx, base, base+0x100, 2, datatype.Int, mpiwrap.OpSum); err != nil {
				return err
			}
			if err := r.Reduce(ctx, base, base+0x200, 2, datatype.Int, mpiwrap.OpMax, 2); err != nil {
				return err
			}
			return r.Bcast(ctx, base+0x300, 1, datatype.Int, 3)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < size; i++ {
		base := uintptr(i) * region
		if got := getInts(t, w, base+0x100, 2); !equalInts(got, []int32{10, 100}) {
			t.Errorf("rank %d allreduce: got %v", i, got)
		}
		if got := getInts(t, w, base+0x300, 1)[0]; got != 77 {
			t.Errorf("rank %d bcast: got %d", i, got)
		}
	}
	if got := getInts(t, w, 2*region+0x200, 2); !equalInts(got, []int32{4, 40}) {
		t.Errorf("reduce max at root: got %v", got)
	}
	if got := getInts(t, w, 0x200, 2); !equalInts(got, []int32{0, 0}) {
		t.Errorf("reduce wrote a non-root buffer: %v", got)
	}
}

func TestReduceRejectsDerived(t *testing.T) {
	w, reg := newWorld(t, 1)
	vec, _ := reg.Contiguous(2, datatype.Int)
	err := w.Rank(0).Reduce(context.Background(), 0, 0x100, 1, vec, mpiwrap.OpSum, 0)
	if !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("got %v", err)
	}
}
