package loopback

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/hostmem"
	"github.com/wippyai/mpiwrap/layout"
	"github.com/wippyai/mpiwrap/request"
)

// Internal tags used by collectives. User tags are non-negative and
// AnyTag never matches these.
const (
	tagBcast  = -100
	tagReduce = -101
)

// World is a set of ranks exchanging messages through one shared address
// space. All state is guarded by a single lock; blocked callers sleep on a
// broadcast channel that is replaced whenever any request completes.
type World struct {
	space  hostmem.Space
	walker *layout.Walker
	ranks  []*Rank
	next   request.Handle
	wake   chan struct{}
	mu     sync.Mutex
}

// NewWorld creates size ranks over space. Buffers are packed and unpacked
// by walking datatypes read from types.
func NewWorld(size int, space hostmem.Space, types datatype.Introspector) *World {
	w := &World{
		space:  space,
		walker: layout.New(types, layout.DefaultConfig()),
		wake:   make(chan struct{}),
	}
	w.ranks = make([]*Rank, size)
	for i := range w.ranks {
		w.ranks[i] = &Rank{
			world: w,
			id:    i,
			reqs:  make(map[request.Handle]*req),
		}
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return len(w.ranks)
}

// Rank returns rank i.
func (w *World) Rank(i int) *Rank {
	return w.ranks[i]
}

// Space returns the shared address space.
func (w *World) Space() hostmem.Space {
	return w.space
}

type message struct {
	source int
	tag    int
	data   []byte
	sync   *req
}

type posted struct {
	source int
	tag    int
	buf    uintptr
	count  int
	ty     datatype.Handle
	raw    bool
	r      *req
}

type req struct {
	done   bool
	status mpiwrap.Status
	recv   *posted
	sent   int
	data   []byte
}

func (p *posted) matches(m *message) bool {
	if p.source != mpiwrap.AnySource && p.source != m.source {
		return false
	}
	if p.tag == mpiwrap.AnyTag {
		return m.tag >= 0
	}
	return p.tag == m.tag
}

func (w *World) newReqLocked() (request.Handle, *req) {
	w.next++
	return w.next, &req{}
}

func (w *World) broadcastLocked() {
	close(w.wake)
	w.wake = make(chan struct{})
}

// await blocks until ready, evaluated under the world lock, returns true.
func (w *World) await(ctx context.Context, ready func() bool) error {
	for {
		w.mu.Lock()
		ch := w.wake
		ok := ready()
		w.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return errors.Wrap(errors.PhaseTransport, errors.KindCanceled, ctx.Err(), "wait interrupted")
		}
	}
}

// deliverLocked hands m to the first matching posted receive of dest or
// queues it as unexpected.
func (w *World) deliverLocked(dest int, m *message) {
	r := w.ranks[dest]
	for i, p := range r.posted {
		if p.matches(m) {
			r.posted = append(r.posted[:i], r.posted[i+1:]...)
			w.fillLocked(dest, p, m)
			return
		}
	}
	r.unexpected = append(r.unexpected, m)
}

// postLocked matches p against the unexpected queue of rank or leaves it
// posted.
func (w *World) postLocked(rank int, p *posted) {
	r := w.ranks[rank]
	for i, m := range r.unexpected {
		if p.matches(m) {
			r.unexpected = append(r.unexpected[:i], r.unexpected[i+1:]...)
			w.fillLocked(rank, p, m)
			return
		}
	}
	r.posted = append(r.posted, p)
}

func (w *World) fillLocked(rank int, p *posted, m *message) {
	st := mpiwrap.Status{Source: m.source, Tag: m.tag}
	p.r.sent = len(m.data)

	if p.raw {
		p.r.data = m.data
		st.Bytes = int64(len(m.data))
	} else {
		n, truncated, err := w.unpackLocked(m.data, p.ty, p.buf, p.count)
		st.Bytes = n
		switch {
		case err != nil:
			st.Error = mpiwrap.ErrOther
			Logger().Warn("loopback: unpack failed",
				zap.Int("rank", rank),
				zap.Int("source", m.source),
				zap.Error(err))
		case truncated:
			st.Error = mpiwrap.ErrTruncate
		}
	}

	p.r.status = st
	p.r.done = true
	if m.sync != nil {
		m.sync.done = true
	}
	w.broadcastLocked()

	Logger().Debug("loopback: matched",
		zap.Int("rank", rank),
		zap.Int("source", m.source),
		zap.Int("tag", m.tag),
		zap.Int("bytes", len(m.data)),
		zap.Stringer("error", st.Error))
}

// packLocked gathers the bytes count elements of ty at buf occupy.
func (w *World) packLocked(ty datatype.Handle, buf uintptr, count int) ([]byte, error) {
	ranges, err := w.walker.Collect(ty, buf, count)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, rg := range ranges {
		b, err := w.space.Read(rg.Addr, rg.Len)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// unpackLocked scatters data over count elements of ty at buf and reports
// how many bytes were written and whether data did not fit.
func (w *World) unpackLocked(data []byte, ty datatype.Handle, buf uintptr, count int) (int64, bool, error) {
	ranges, err := w.walker.Collect(ty, buf, count)
	if err != nil {
		return 0, false, err
	}
	var written int64
	for _, rg := range ranges {
		if len(data) == 0 {
			break
		}
		n := min(uintptr(len(data)), rg.Len)
		if err := w.space.Write(rg.Addr, data[:n]); err != nil {
			return written, false, err
		}
		data = data[n:]
		written += int64(n)
	}
	return written, len(data) > 0, nil
}

func (w *World) checkRank(rank int, wildcard bool) error {
	if wildcard && rank == mpiwrap.AnySource {
		return nil
	}
	if rank < 0 || rank >= len(w.ranks) {
		return errors.New(errors.PhaseTransport, errors.KindInvalidInput).
			Value(rank).
			Detail("rank %d outside world of %d", rank, len(w.ranks)).
			Build()
	}
	return nil
}

func checkTag(tag int, wildcard bool) error {
	if tag >= 0 || (wildcard && tag == mpiwrap.AnyTag) {
		return nil
	}
	return errors.New(errors.PhaseTransport, errors.KindInvalidInput).
		Value(tag).
		Detail("invalid tag %d", tag).
		Build()
}
