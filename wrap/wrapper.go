package wrap

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/completion"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/layout"
	"github.com/wippyai/mpiwrap/request"
)

// Wrapper interposes on the calls of one Transport. Before a call it hands
// the ranges the call will read or write to the Checker; after it, or when
// an asynchronous receive completes, it marks the received ranges defined.
// Safe for concurrent use if the Transport and Checker are.
type Wrapper struct {
	tr       Transport
	checker  mpiwrap.Checker
	walker   *layout.Walker
	table    *request.Table
	resolver *completion.Resolver
	cfg      Config
}

// New creates a Wrapper around tr. Datatypes are decomposed through types.
func New(tr Transport, checker mpiwrap.Checker, types datatype.Introspector, cfg Config) *Wrapper {
	walker := layout.New(types, cfg.walker())
	table := request.NewTable(cfg.TableCapacity)

	w := &Wrapper{
		tr:       tr,
		checker:  checker,
		walker:   walker,
		table:    table,
		resolver: completion.New(table, walker, checker, tr),
		cfg:      cfg,
	}
	if cfg.Verbosity > 0 {
		Logger().Info("wrap: enabled",
			zap.Int("rank", tr.Rank()),
			zap.Int("size", tr.Size()),
			zap.Bool("strict", cfg.Strict),
			zap.Int("verbosity", cfg.Verbosity))
	}
	return w
}

// Transport returns the wrapped transport.
func (w *Wrapper) Transport() Transport { return w.tr }

// Walker returns the walker used to decompose buffers.
func (w *Wrapper) Walker() *layout.Walker { return w.walker }

// Table returns the outstanding receive table.
func (w *Wrapper) Table() *request.Table { return w.table }

// Config returns the configuration.
func (w *Wrapper) Config() Config { return w.cfg }

// Send wraps a standard mode send.
func (w *Wrapper) Send(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) error {
	return w.send(ctx, mpiwrap.Standard, buf, count, ty, dest, tag)
}

// Bsend wraps a buffered mode send.
func (w *Wrapper) Bsend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) error {
	return w.send(ctx, mpiwrap.Buffered, buf, count, ty, dest, tag)
}

// Ssend wraps a synchronous mode send.
func (w *Wrapper) Ssend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) error {
	return w.send(ctx, mpiwrap.Synchronous, buf, count, ty, dest, tag)
}

// Rsend wraps a ready mode send.
func (w *Wrapper) Rsend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) error {
	return w.send(ctx, mpiwrap.Ready, buf, count, ty, dest, tag)
}

func (w *Wrapper) send(ctx context.Context, mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) error {
	w.trace(mode.String(), zap.Uintptr("buf", buf), zap.Int("count", count), zap.Stringer("type", ty), zap.Int("dest", dest))
	if err := w.checkDefined(buf, count, ty); err != nil {
		return err
	}
	return w.failed(mode.String(), w.tr.Send(ctx, mode, buf, count, ty, dest, tag))
}

// Recv wraps a blocking receive. Only the elements actually received are
// marked defined.
func (w *Wrapper) Recv(ctx context.Context, buf uintptr, count int, ty datatype.Handle, source, tag int, st *mpiwrap.Status) error {
	st = orScratch(st)
	w.trace("recv", zap.Uintptr("buf", buf), zap.Int("count", count), zap.Stringer("type", ty), zap.Int("source", source))
	if err := w.checkAddressable(buf, count, ty); err != nil {
		return err
	}
	if err := w.tr.Recv(ctx, buf, count, ty, source, tag, st); err != nil {
		return w.failed("recv", err)
	}
	return w.markReceived(st, buf, ty)
}

// Isend wraps a non-blocking standard mode send. Send requests are not
// tracked since completing them writes nothing the caller owns.
func (w *Wrapper) Isend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error) {
	return w.isend(ctx, mpiwrap.Standard, buf, count, ty, dest, tag)
}

// Ibsend wraps a non-blocking buffered mode send.
func (w *Wrapper) Ibsend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error) {
	return w.isend(ctx, mpiwrap.Buffered, buf, count, ty, dest, tag)
}

// Issend wraps a non-blocking synchronous mode send.
func (w *Wrapper) Issend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error) {
	return w.isend(ctx, mpiwrap.Synchronous, buf, count, ty, dest, tag)
}

// Irsend wraps a non-blocking ready mode send.
func (w *Wrapper) Irsend(ctx context.Context, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error) {
	return w.isend(ctx, mpiwrap.Ready, buf, count, ty, dest, tag)
}

func (w *Wrapper) isend(ctx context.Context, mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error) {
	op := "i" + mode.String()
	w.trace(op, zap.Uintptr("buf", buf), zap.Int("count", count), zap.Stringer("type", ty), zap.Int("dest", dest))
	if err := w.checkDefined(buf, count, ty); err != nil {
		return request.Null, err
	}
	h, err := w.tr.Isend(ctx, mode, buf, count, ty, dest, tag)
	return h, w.failed(op, err)
}

// Irecv wraps a non-blocking receive and records it until completion.
func (w *Wrapper) Irecv(ctx context.Context, buf uintptr, count int, ty datatype.Handle, source, tag int) (request.Handle, error) {
	w.trace("irecv", zap.Uintptr("buf", buf), zap.Int("count", count), zap.Stringer("type", ty), zap.Int("source", source))
	if err := w.checkAddressable(buf, count, ty); err != nil {
		return request.Null, err
	}
	h, err := w.tr.Irecv(ctx, buf, count, ty, source, tag)
	if err != nil {
		return h, w.failed("irecv", err)
	}
	if h != request.Null {
		w.table.Add(h, buf, count, ty)
	}
	return h, nil
}

// Sendrecv wraps a combined send and receive.
func (w *Wrapper) Sendrecv(ctx context.Context,
	sbuf uintptr, scount int, sty datatype.Handle, dest, stag int,
	rbuf uintptr, rcount int, rty datatype.Handle, source, rtag int,
	st *mpiwrap.Status,
) error {
	st = orScratch(st)
	w.trace("sendrecv", zap.Uintptr("sbuf", sbuf), zap.Uintptr("rbuf", rbuf), zap.Int("dest", dest), zap.Int("source", source))
	if err := w.checkDefined(sbuf, scount, sty); err != nil {
		return err
	}
	if err := w.checkAddressable(rbuf, rcount, rty); err != nil {
		return err
	}
	err := w.tr.Sendrecv(ctx, sbuf, scount, sty, dest, stag, rbuf, rcount, rty, source, rtag, st)
	if err != nil {
		return w.failed("sendrecv", err)
	}
	return w.markReceived(st, rbuf, rty)
}

// Wait wraps a blocking wait for one request.
func (w *Wrapper) Wait(ctx context.Context, req *request.Handle, st *mpiwrap.Status) error {
	st = orScratch(st)
	before := *req
	w.trace("wait", zap.Uint64("request", uint64(before)))
	if err := w.tr.Wait(ctx, req, st); err != nil {
		return w.failed("wait", err)
	}
	return w.complete(false, before, *req, st)
}

// Test wraps a non-blocking completion check for one request.
func (w *Wrapper) Test(ctx context.Context, req *request.Handle, st *mpiwrap.Status) (bool, error) {
	st = orScratch(st)
	before := *req
	w.trace("test", zap.Uint64("request", uint64(before)))
	done, err := w.tr.Test(ctx, req, st)
	if err != nil {
		return done, w.failed("test", err)
	}
	if !done {
		return false, nil
	}
	return true, w.complete(false, before, *req, st)
}

// Waitall wraps a blocking wait for every request in reqs. sts may be nil.
// If the transport reports an error in status, the per-request status
// codes decide which requests completed.
func (w *Wrapper) Waitall(ctx context.Context, reqs []request.Handle, sts []mpiwrap.Status) error {
	sts, err := statusArray(reqs, sts)
	if err != nil {
		return err
	}
	before := w.table.CloneHandles(reqs)
	w.trace("waitall", zap.Int("count", len(reqs)))

	err = w.tr.Waitall(ctx, reqs, sts)
	inStatus := errors.IsKind(err, errors.KindInStatus)
	if err != nil && !inStatus {
		return w.failed("waitall", err)
	}
	return multierr.Append(err, w.batch(inStatus, before, reqs, sts))
}

// Testall wraps a non-blocking check that every request in reqs is done.
func (w *Wrapper) Testall(ctx context.Context, reqs []request.Handle, sts []mpiwrap.Status) (bool, error) {
	sts, err := statusArray(reqs, sts)
	if err != nil {
		return false, err
	}
	before := w.table.CloneHandles(reqs)
	w.trace("testall", zap.Int("count", len(reqs)))

	done, err := w.tr.Testall(ctx, reqs, sts)
	inStatus := errors.IsKind(err, errors.KindInStatus)
	if err != nil && !inStatus {
		return done, w.failed("testall", err)
	}
	if !done {
		return false, err
	}
	return true, multierr.Append(err, w.batch(inStatus, before, reqs, sts))
}

// Waitany wraps a blocking wait for any one request in reqs. It returns
// the completed index or mpiwrap.Undefined.
func (w *Wrapper) Waitany(ctx context.Context, reqs []request.Handle, st *mpiwrap.Status) (int, error) {
	st = orScratch(st)
	before := w.table.CloneHandles(reqs)
	w.trace("waitany", zap.Int("count", len(reqs)))

	idx, err := w.tr.Waitany(ctx, reqs, st)
	if err != nil {
		return idx, w.failed("waitany", err)
	}
	if idx >= 0 && idx < len(reqs) {
		return idx, w.complete(false, before[idx], reqs[idx], st)
	}
	return idx, nil
}

// Testany wraps a non-blocking check for any one completed request.
func (w *Wrapper) Testany(ctx context.Context, reqs []request.Handle, st *mpiwrap.Status) (int, bool, error) {
	st = orScratch(st)
	before := w.table.CloneHandles(reqs)
	w.trace("testany", zap.Int("count", len(reqs)))

	idx, done, err := w.tr.Testany(ctx, reqs, st)
	if err != nil {
		return idx, done, w.failed("testany", err)
	}
	if done && idx >= 0 && idx < len(reqs) {
		return idx, true, w.complete(false, before[idx], reqs[idx], st)
	}
	return idx, done, nil
}

// Cancel wraps request cancellation. The request stops being tracked only
// if the transport accepted the cancel.
func (w *Wrapper) Cancel(ctx context.Context, req *request.Handle) error {
	h := *req
	w.trace("cancel", zap.Uint64("request", uint64(h)))
	if err := w.tr.Cancel(ctx, req); err != nil {
		return w.failed("cancel", err)
	}
	w.table.Delete(h)
	return nil
}

// RequestFree wraps request release.
func (w *Wrapper) RequestFree(ctx context.Context, req *request.Handle) error {
	h := *req
	w.trace("request_free", zap.Uint64("request", uint64(h)))
	if err := w.tr.RequestFree(ctx, req); err != nil {
		return w.failed("request_free", err)
	}
	w.table.Delete(h)
	return nil
}

// Bcast wraps a broadcast. The root's buffer is read, everyone else's is
// written.
func (w *Wrapper) Bcast(ctx context.Context, buf uintptr, count int, ty datatype.Handle, root int) error {
	sender := w.tr.Rank() == root
	w.trace("bcast", zap.Uintptr("buf", buf), zap.Int("count", count), zap.Int("root", root))

	var err error
	if sender {
		err = w.checkDefined(buf, count, ty)
	} else {
		err = w.checkAddressable(buf, count, ty)
	}
	if err != nil {
		return err
	}
	if err := w.tr.Bcast(ctx, buf, count, ty, root); err != nil {
		return w.failed("bcast", err)
	}
	if sender {
		return nil
	}
	return w.markDefined(buf, count, ty)
}

// Reduce wraps a reduction to root. Only the root's receive buffer is
// written.
func (w *Wrapper) Reduce(ctx context.Context, sbuf, rbuf uintptr, count int, ty datatype.Handle, op mpiwrap.Op, root int) error {
	isRoot := w.tr.Rank() == root
	w.trace("reduce", zap.Uintptr("sbuf", sbuf), zap.Uintptr("rbuf", rbuf), zap.Stringer("op", op), zap.Int("root", root))

	if err := w.checkDefined(sbuf, count, ty); err != nil {
		return err
	}
	if isRoot {
		if err := w.checkAddressable(rbuf, count, ty); err != nil {
			return err
		}
	}
	if err := w.tr.Reduce(ctx, sbuf, rbuf, count, ty, op, root); err != nil {
		return w.failed("reduce", err)
	}
	if !isRoot {
		return nil
	}
	return w.markDefined(rbuf, count, ty)
}

// Allreduce wraps a reduction whose result every rank receives.
func (w *Wrapper) Allreduce(ctx context.Context, sbuf, rbuf uintptr, count int, ty datatype.Handle, op mpiwrap.Op) error {
	w.trace("allreduce", zap.Uintptr("sbuf", sbuf), zap.Uintptr("rbuf", rbuf), zap.Stringer("op", op))
	if err := w.checkDefined(sbuf, count, ty); err != nil {
		return err
	}
	if err := w.checkAddressable(rbuf, count, ty); err != nil {
		return err
	}
	if err := w.tr.Allreduce(ctx, sbuf, rbuf, count, ty, op); err != nil {
		return w.failed("allreduce", err)
	}
	return w.markDefined(rbuf, count, ty)
}

// GetCount returns the whole elements of ty a completed receive delivered.
func (w *Wrapper) GetCount(st *mpiwrap.Status, ty datatype.Handle) (int, error) {
	return w.tr.Count(st, ty)
}

func (w *Wrapper) visit(buf uintptr, count int, ty datatype.Handle, fn func(addr, n uintptr)) error {
	return w.walker.WalkArray(ty, buf, count, func(r mpiwrap.Range) {
		fn(r.Addr, r.Len)
	})
}

func (w *Wrapper) checkDefined(buf uintptr, count int, ty datatype.Handle) error {
	return w.visit(buf, count, ty, w.checker.CheckDefined)
}

func (w *Wrapper) checkAddressable(buf uintptr, count int, ty datatype.Handle) error {
	return w.visit(buf, count, ty, w.checker.CheckAddressable)
}

func (w *Wrapper) markDefined(buf uintptr, count int, ty datatype.Handle) error {
	return w.visit(buf, count, ty, w.checker.MarkDefinedIfAddressable)
}

// markReceived marks the elements a blocking receive delivered. A status
// the transport cannot count marks nothing.
func (w *Wrapper) markReceived(st *mpiwrap.Status, buf uintptr, ty datatype.Handle) error {
	n, err := w.tr.Count(st, ty)
	if err != nil {
		w.trace("count unavailable", zap.Error(err))
		return nil
	}
	return w.markDefined(buf, n, ty)
}

func (w *Wrapper) complete(authoritative bool, before, after request.Handle, st *mpiwrap.Status) error {
	o, err := w.resolver.MaybeComplete(authoritative, before, after, st)
	if o != completion.Skipped {
		w.trace("complete", zap.Uint64("request", uint64(before)), zap.Stringer("outcome", o), zap.Int64("bytes", st.Bytes))
	}
	return err
}

func (w *Wrapper) batch(authoritative bool, before, after []request.Handle, sts []mpiwrap.Status) error {
	outcomes, err := w.resolver.Batch(authoritative, before, after, sts)
	if w.cfg.Verbosity > 1 {
		for i, o := range outcomes {
			if o != completion.Skipped {
				w.trace("complete", zap.Int("index", i), zap.Uint64("request", uint64(before[i])), zap.Stringer("outcome", o))
			}
		}
	}
	return err
}

func (w *Wrapper) trace(op string, fields ...zap.Field) {
	if w.cfg.Verbosity > 1 {
		Logger().Debug("wrap: "+op, append(fields, zap.Int("rank", w.tr.Rank()))...)
	}
}

func (w *Wrapper) failed(op string, err error) error {
	if err != nil && w.cfg.Warn {
		Logger().Warn("wrap: call failed",
			zap.String("op", op),
			zap.Int("rank", w.tr.Rank()),
			zap.Error(err))
	}
	return err
}

func orScratch(st *mpiwrap.Status) *mpiwrap.Status {
	if st == nil {
		return new(mpiwrap.Status)
	}
	return st
}

func statusArray(reqs []request.Handle, sts []mpiwrap.Status) ([]mpiwrap.Status, error) {
	if sts == nil {
		return make([]mpiwrap.Status, len(reqs)), nil
	}
	if len(sts) < len(reqs) {
		return nil, errors.New(errors.PhaseTransport, errors.KindInvalidInput).
			Detail("%d statuses for %d requests", len(sts), len(reqs)).
			Build()
	}
	return sts, nil
}
