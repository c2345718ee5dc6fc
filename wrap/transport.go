package wrap

import (
	"context"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/request"
)

// Transport is the real message-passing layer of one rank. Buffers are
// addresses in the caller's address space; the transport reads and writes
// them according to the datatype.
//
// A batch call that fails for some requests only reports an error of kind
// errors.KindInStatus and sets the per-request status codes.
type Transport interface {
	Rank() int
	Size() int

	Send(ctx context.Context, mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) error
	Recv(ctx context.Context, buf uintptr, count int, ty datatype.Handle, source, tag int, st *mpiwrap.Status) error
	Isend(ctx context.Context, mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error)
	Irecv(ctx context.Context, buf uintptr, count int, ty datatype.Handle, source, tag int) (request.Handle, error)
	Sendrecv(ctx context.Context,
		sbuf uintptr, scount int, sty datatype.Handle, dest, stag int,
		rbuf uintptr, rcount int, rty datatype.Handle, source, rtag int,
		st *mpiwrap.Status) error

	// Wait, Test and the batch forms set completed handles to request.Null.
	Wait(ctx context.Context, req *request.Handle, st *mpiwrap.Status) error
	Test(ctx context.Context, req *request.Handle, st *mpiwrap.Status) (bool, error)
	Waitall(ctx context.Context, reqs []request.Handle, sts []mpiwrap.Status) error
	Testall(ctx context.Context, reqs []request.Handle, sts []mpiwrap.Status) (bool, error)
	Waitany(ctx context.Context, reqs []request.Handle, st *mpiwrap.Status) (int, error)
	Testany(ctx context.Context, reqs []request.Handle, st *mpiwrap.Status) (int, bool, error)

	// Cancel marks a request for cancellation; it must still be completed.
	Cancel(ctx context.Context, req *request.Handle) error
	// RequestFree releases a request and sets it to request.Null.
	RequestFree(ctx context.Context, req *request.Handle) error

	Bcast(ctx context.Context, buf uintptr, count int, ty datatype.Handle, root int) error
	Reduce(ctx context.Context, sbuf, rbuf uintptr, count int, ty datatype.Handle, op mpiwrap.Op, root int) error
	Allreduce(ctx context.Context, sbuf, rbuf uintptr, count int, ty datatype.Handle, op mpiwrap.Op) error

	// Count returns the whole elements of ty a completed receive delivered.
	Count(st *mpiwrap.Status, ty datatype.Handle) (int, error)
}
