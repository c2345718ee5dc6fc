package loopback

import (
	"context"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/request"
)

// Rank is one participant of a World. Its methods form the transport the
// wrapper layer drives.
type Rank struct {
	world      *World
	id         int
	reqs       map[request.Handle]*req
	posted     []*posted
	unexpected []*message
}

// Rank returns the rank's index in its world.
func (r *Rank) Rank() int { return r.id }

// Size returns the number of ranks in the world.
func (r *Rank) Size() int { return r.world.Size() }

// Send delivers a copy of the buffer to dest. Synchronous sends return
// once a matching receive has taken the message; other modes return at once.
func (r *Rank) Send(ctx context.Context, mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) error {
	if err := checkTag(tag, false); err != nil {
		return err
	}
	pending, err := r.send(mode, buf, count, ty, dest, tag)
	if err != nil || pending == nil {
		return err
	}
	return r.world.await(ctx, func() bool { return pending.done })
}

// Isend is the non-blocking Send.
func (r *Rank) Isend(ctx context.Context, mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) (request.Handle, error) {
	if err := checkTag(tag, false); err != nil {
		return request.Null, err
	}
	w := r.world
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := r.packForLocked(dest, buf, count, ty)
	if err != nil {
		return request.Null, err
	}
	h, q := w.newReqLocked()
	m := &message{source: r.id, tag: tag, data: data}
	if mode == mpiwrap.Synchronous {
		m.sync = q
	} else {
		q.done = true
	}
	r.reqs[h] = q
	w.deliverLocked(dest, m)
	return h, nil
}

func (r *Rank) send(mode mpiwrap.SendMode, buf uintptr, count int, ty datatype.Handle, dest, tag int) (*req, error) {
	w := r.world
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := r.packForLocked(dest, buf, count, ty)
	if err != nil {
		return nil, err
	}
	m := &message{source: r.id, tag: tag, data: data}
	if mode == mpiwrap.Synchronous {
		m.sync = &req{}
	}
	w.deliverLocked(dest, m)
	return m.sync, nil
}

func (r *Rank) packForLocked(dest int, buf uintptr, count int, ty datatype.Handle) ([]byte, error) {
	if err := r.world.checkRank(dest, false); err != nil {
		return nil, err
	}
	data, err := r.world.packLocked(ty, buf, count)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidData, err, "pack send buffer")
	}
	return data, nil
}

// Irecv posts a receive of up to count elements of ty into buf.
func (r *Rank) Irecv(ctx context.Context, buf uintptr, count int, ty datatype.Handle, source, tag int) (request.Handle, error) {
	if err := checkTag(tag, true); err != nil {
		return request.Null, err
	}
	return r.irecv(&posted{source: source, tag: tag, buf: buf, count: count, ty: ty})
}

func (r *Rank) irecv(p *posted) (request.Handle, error) {
	w := r.world
	if err := w.checkRank(p.source, true); err != nil {
		return request.Null, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	h, q := w.newReqLocked()
	q.recv = p
	p.r = q
	r.reqs[h] = q
	w.postLocked(r.id, p)
	return h, nil
}

// Recv is Irecv followed by Wait.
func (r *Rank) Recv(ctx context.Context, buf uintptr, count int, ty datatype.Handle, source, tag int, st *mpiwrap.Status) error {
	h, err := r.Irecv(ctx, buf, count, ty, source, tag)
	if err != nil {
		return err
	}
	return r.Wait(ctx, &h, st)
}

// Sendrecv sends and receives without the ordering deadlock of a blocking
// send followed by a blocking receive.
func (r *Rank) Sendrecv(ctx context.Context,
	sbuf uintptr, scount int, sty datatype.Handle, dest, stag int,
	rbuf uintptr, rcount int, rty datatype.Handle, source, rtag int,
	st *mpiwrap.Status,
) error {
	rh, err := r.Irecv(ctx, rbuf, rcount, rty, source, rtag)
	if err != nil {
		return err
	}
	sh, err := r.Isend(ctx, mpiwrap.Standard, sbuf, scount, sty, dest, stag)
	if err != nil {
		_ = r.Cancel(ctx, &rh)
		_ = r.RequestFree(ctx, &rh)
		return err
	}
	if err := r.Wait(ctx, &sh, nil); err != nil {
		return err
	}
	return r.Wait(ctx, &rh, st)
}

// Wait blocks until *h completes, stores its status and sets *h to Null.
// A null handle completes at once with an empty status.
func (r *Rank) Wait(ctx context.Context, h *request.Handle, st *mpiwrap.Status) error {
	if *h == request.Null {
		setStatus(st, emptyStatus())
		return nil
	}
	q, err := r.lookup(*h)
	if err != nil {
		return err
	}
	if err := r.world.await(ctx, func() bool { return q.done }); err != nil {
		return err
	}
	return r.retire(h, st)
}

// Test completes *h if it is done.
func (r *Rank) Test(ctx context.Context, h *request.Handle, st *mpiwrap.Status) (bool, error) {
	if *h == request.Null {
		setStatus(st, emptyStatus())
		return true, nil
	}
	q, err := r.lookup(*h)
	if err != nil {
		return false, err
	}
	if !r.done(q) {
		return false, nil
	}
	return true, r.retire(h, st)
}

// Waitall completes every request. If any failed, it returns an error of
// kind errors.KindInStatus and the per-request codes are in sts.
func (r *Rank) Waitall(ctx context.Context, hs []request.Handle, sts []mpiwrap.Status) error {
	qs, err := r.lookupAll(hs)
	if err != nil {
		return err
	}
	err = r.world.await(ctx, func() bool {
		for _, q := range qs {
			if q != nil && !q.done {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return r.retireAll(hs, sts)
}

// Testall completes every request if all are done and otherwise changes
// nothing.
func (r *Rank) Testall(ctx context.Context, hs []request.Handle, sts []mpiwrap.Status) (bool, error) {
	qs, err := r.lookupAll(hs)
	if err != nil {
		return false, err
	}
	for _, q := range qs {
		if q != nil && !r.done(q) {
			return false, nil
		}
	}
	return true, r.retireAll(hs, sts)
}

// Waitany completes one request and returns its index, or
// mpiwrap.Undefined if every handle is null.
func (r *Rank) Waitany(ctx context.Context, hs []request.Handle, st *mpiwrap.Status) (int, error) {
	qs, err := r.lookupAll(hs)
	if err != nil {
		return mpiwrap.Undefined, err
	}
	idx := mpiwrap.Undefined
	err = r.world.await(ctx, func() bool {
		active := false
		for i, q := range qs {
			if q == nil {
				continue
			}
			active = true
			if q.done {
				idx = i
				return true
			}
		}
		return !active
	})
	if err != nil {
		return mpiwrap.Undefined, err
	}
	if idx == mpiwrap.Undefined {
		setStatus(st, emptyStatus())
		return idx, nil
	}
	return idx, r.retire(&hs[idx], st)
}

// Testany completes one done request if there is one. With only null
// handles it reports done with index mpiwrap.Undefined.
func (r *Rank) Testany(ctx context.Context, hs []request.Handle, st *mpiwrap.Status) (int, bool, error) {
	qs, err := r.lookupAll(hs)
	if err != nil {
		return mpiwrap.Undefined, false, err
	}
	active := false
	for i, q := range qs {
		if q == nil {
			continue
		}
		active = true
		if r.done(q) {
			return i, true, r.retire(&hs[i], st)
		}
	}
	if !active {
		setStatus(st, emptyStatus())
		return mpiwrap.Undefined, true, nil
	}
	return mpiwrap.Undefined, false, nil
}

// Cancel withdraws a receive that has not been matched yet. The request
// still has to be completed; its status then reports Cancelled. Cancelling
// a send or an already matched receive has no effect.
func (r *Rank) Cancel(ctx context.Context, h *request.Handle) error {
	q, err := r.lookup(*h)
	if err != nil {
		return err
	}

	w := r.world
	w.mu.Lock()
	defer w.mu.Unlock()

	if q.done || q.recv == nil {
		return nil
	}
	for i, p := range r.posted {
		if p == q.recv {
			r.posted = append(r.posted[:i], r.posted[i+1:]...)
			break
		}
	}
	st := emptyStatus()
	st.Cancelled = true
	q.status = st
	q.done = true
	w.broadcastLocked()
	return nil
}

// RequestFree drops the handle. A pending operation still runs to
// completion but can no longer be observed.
func (r *Rank) RequestFree(ctx context.Context, h *request.Handle) error {
	if _, err := r.lookup(*h); err != nil {
		return err
	}
	r.world.mu.Lock()
	delete(r.reqs, *h)
	r.world.mu.Unlock()
	*h = request.Null
	return nil
}

// Count returns the whole elements of ty the status accounts for. It fails
// if the byte count is not a multiple of the packed size of ty.
func (r *Rank) Count(st *mpiwrap.Status, ty datatype.Handle) (int, error) {
	size, err := r.world.walker.Size(ty)
	if err != nil {
		return 0, err
	}
	switch {
	case st.Bytes == 0:
		return 0, nil
	case size == 0 || st.Bytes%size != 0:
		return 0, errors.New(errors.PhaseTransport, errors.KindInvalidData).
			Datatype(ty.String()).
			Value(st.Bytes).
			Detail("%d bytes is not a whole number of %d byte elements", st.Bytes, size).
			Build()
	}
	return int(st.Bytes / size), nil
}

func (r *Rank) lookup(h request.Handle) (*req, error) {
	r.world.mu.Lock()
	defer r.world.mu.Unlock()

	q, ok := r.reqs[h]
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "request", h)
	}
	return q, nil
}

// lookupAll resolves hs; null handles map to nil.
func (r *Rank) lookupAll(hs []request.Handle) ([]*req, error) {
	qs := make([]*req, len(hs))
	for i, h := range hs {
		if h == request.Null {
			continue
		}
		q, err := r.lookup(h)
		if err != nil {
			return nil, err
		}
		qs[i] = q
	}
	return qs, nil
}

func (r *Rank) done(q *req) bool {
	r.world.mu.Lock()
	defer r.world.mu.Unlock()
	return q.done
}

// retire removes a completed request, copies out its status and returns
// the error its status code stands for.
func (r *Rank) retire(h *request.Handle, st *mpiwrap.Status) error {
	r.world.mu.Lock()
	q, ok := r.reqs[*h]
	delete(r.reqs, *h)
	r.world.mu.Unlock()

	if !ok {
		return errors.NotFound(errors.PhaseTransport, "request", *h)
	}
	*h = request.Null
	setStatus(st, q.status)
	return statusError(q)
}

func (r *Rank) retireAll(hs []request.Handle, sts []mpiwrap.Status) error {
	failed := 0
	for i := range hs {
		var st *mpiwrap.Status
		if i < len(sts) {
			st = &sts[i]
		}
		if hs[i] == request.Null {
			setStatus(st, emptyStatus())
			continue
		}
		if r.retire(&hs[i], st) != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return errors.New(errors.PhaseTransport, errors.KindInStatus).
		Value(failed).
		Detail("%d of %d requests failed", failed, len(hs)).
		Build()
}

func statusError(q *req) error {
	switch q.status.Error {
	case mpiwrap.Success:
		return nil
	case mpiwrap.ErrTruncate:
		return errors.Truncated(errors.PhaseTransport, q.sent, int(q.status.Bytes))
	default:
		return errors.New(errors.PhaseTransport, errors.KindInvalidData).
			Detail("receive failed: %s", q.status.Error).
			Build()
	}
}

func emptyStatus() mpiwrap.Status {
	return mpiwrap.Status{Source: mpiwrap.AnySource, Tag: mpiwrap.AnyTag}
}

func setStatus(dst *mpiwrap.Status, st mpiwrap.Status) {
	if dst != nil {
		*dst = st
	}
}
