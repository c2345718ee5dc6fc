package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/hostmem"
	"github.com/wippyai/mpiwrap/layout"
	"github.com/wippyai/mpiwrap/loopback"
	"github.com/wippyai/mpiwrap/request"
	"github.com/wippyai/mpiwrap/shadow"
	"github.com/wippyai/mpiwrap/wrap"
)

// Event is one range the wrapper handed to the checker.
type Event struct {
	Op    string
	Range mpiwrap.Range
}

// StepResult records what one step did.
type StepResult struct {
	Step   Step
	Err    error
	Events []Event
	Status *mpiwrap.Status
}

// RankResult holds the executed steps of one rank.
type RankResult struct {
	Rank    int
	Steps   []StepResult
	Pending int
}

// Result is the outcome of a scenario run.
type Result struct {
	Scenario   *Scenario
	Ranks      []RankResult
	Reports    []shadow.Report
	Complaints int
	Err        error
}

// Failed reports whether the run hit an error or found a violation the
// scenario did not expect.
func (r *Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	exp := r.Scenario.Expect
	if exp == nil {
		return len(r.Reports) > 0
	}
	return len(r.Reports) != exp.Reports || r.pending() != exp.Pending
}

func (r *Result) pending() int {
	n := 0
	for _, rr := range r.Ranks {
		n += rr.Pending
	}
	return n
}

// recorder forwards checker calls to the shadow memory and keeps a log of
// them. Each rank owns one.
type recorder struct {
	mem    *shadow.Memory
	events []Event
}

func (r *recorder) CheckDefined(addr, n uintptr) {
	r.events = append(r.events, Event{Op: "check_defined", Range: mpiwrap.Range{Addr: addr, Len: n}})
	r.mem.CheckDefined(addr, n)
}

func (r *recorder) CheckAddressable(addr, n uintptr) {
	r.events = append(r.events, Event{Op: "check_addressable", Range: mpiwrap.Range{Addr: addr, Len: n}})
	r.mem.CheckAddressable(addr, n)
}

func (r *recorder) MarkDefinedIfAddressable(addr, n uintptr) {
	r.events = append(r.events, Event{Op: "mark_defined", Range: mpiwrap.Range{Addr: addr, Len: n}})
	r.mem.MarkDefinedIfAddressable(addr, n)
}

// preload fills every defined buffer with the low bytes of its addresses,
// so transferred data can be told apart from zeroed memory.
func preload(bufs []Buffer) []hostmem.Segment {
	var segs []hostmem.Segment
	for _, b := range bufs {
		if !b.Defined || b.Size == 0 {
			continue
		}
		data := make([]byte, b.Size)
		for i := range data {
			data[i] = byte(b.Addr + uintptr(i))
		}
		segs = append(segs, hostmem.Segment{Addr: uint32(b.Addr), Data: data})
	}
	return segs
}

// Run executes the scenario over a wasm linear memory, one goroutine per
// rank.
func Run(ctx context.Context, s *Scenario, cfg wrap.Config) (*Result, error) {
	space, err := hostmem.NewWasm(ctx, s.Pages, preload(s.Buffers)...)
	if err != nil {
		return nil, err
	}
	defer space.Close(ctx)

	reg := datatype.NewRegistry()
	types, err := s.build(reg)
	if err != nil {
		return nil, err
	}

	mem := shadow.New(space.Size())
	for _, b := range s.Buffers {
		if b.Defined {
			mem.MarkDefined(b.Addr, b.Size)
		} else {
			mem.Allocate(b.Addr, b.Size)
		}
	}

	if cfg.Complaints == nil {
		cfg.Complaints = layout.NewComplaints(layout.DefaultComplaints)
	}
	world := loopback.NewWorld(s.Ranks, space, reg)
	res := &Result{Scenario: s, Ranks: make([]RankResult, s.Ranks)}

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < s.Ranks; rank++ {
		rec := &recorder{mem: mem}
		w := wrap.New(world.Rank(rank), rec, reg, cfg)
		ex := &executor{s: s, w: w, rec: rec, mem: mem, types: types, reqs: make(map[string]request.Handle)}
		res.Ranks[rank].Rank = rank

		g.Go(func() error {
			steps, err := ex.run(gctx, s.Steps[rank])
			res.Ranks[rank].Steps = steps
			res.Ranks[rank].Pending = w.Table().Len()
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	res.Err = g.Wait()
	res.Reports = mem.Reports()
	res.Complaints = layout.DefaultComplaints - cfg.Complaints.Remaining()
	return res, nil
}

type executor struct {
	s     *Scenario
	w     *wrap.Wrapper
	rec   *recorder
	mem   *shadow.Memory
	types map[string]datatype.Handle
	reqs  map[string]request.Handle
}

func (e *executor) run(ctx context.Context, steps []Step) ([]StepResult, error) {
	out := make([]StepResult, 0, len(steps))
	for _, st := range steps {
		mark := len(e.rec.events)
		status, err := e.step(ctx, st)
		out = append(out, StepResult{
			Step:   st,
			Err:    err,
			Events: append([]Event(nil), e.rec.events[mark:]...),
			Status: status,
		})
		// per-request failures are already in the statuses
		if err != nil && !errors.IsKind(err, errors.KindInStatus) {
			logger.Debug("mpicheck: step failed", zap.String("op", st.Op), zap.Error(err))
			return out, err
		}
	}
	return out, nil
}

func (e *executor) buf(name string, off uintptr) uintptr {
	return e.s.buffers[name].Addr + off
}

func (e *executor) typeOf(name string) datatype.Handle {
	if h, ok := datatype.Lookup(name); ok {
		return h
	}
	return e.types[name]
}

func (e *executor) step(ctx context.Context, st Step) (*mpiwrap.Status, error) {
	var status mpiwrap.Status
	buf := e.buf(st.Buf, st.Off)
	ty := e.typeOf(st.Type)

	switch st.Op {
	case "write":
		b := e.s.buffers[st.Buf]
		n := b.Size - min(st.Off, b.Size)
		if st.Count > 0 {
			n = min(n, uintptr(st.Count))
		}
		e.mem.MarkDefined(buf, n)
		return nil, nil

	case "send":
		mode := modes[st.Mode]
		switch mode {
		case mpiwrap.Buffered:
			return nil, e.w.Bsend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		case mpiwrap.Synchronous:
			return nil, e.w.Ssend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		case mpiwrap.Ready:
			return nil, e.w.Rsend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		default:
			return nil, e.w.Send(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		}

	case "isend":
		var (
			h   request.Handle
			err error
		)
		switch modes[st.Mode] {
		case mpiwrap.Buffered:
			h, err = e.w.Ibsend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		case mpiwrap.Synchronous:
			h, err = e.w.Issend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		case mpiwrap.Ready:
			h, err = e.w.Irsend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		default:
			h, err = e.w.Isend(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		}
		e.reqs[st.Req] = h
		return nil, err

	case "recv":
		err := e.w.Recv(ctx, buf, st.Count, ty, st.Peer, st.Tag, &status)
		return &status, err

	case "irecv":
		h, err := e.w.Irecv(ctx, buf, st.Count, ty, st.Peer, st.Tag)
		e.reqs[st.Req] = h
		return nil, err

	case "sendrecv":
		err := e.w.Sendrecv(ctx,
			buf, st.Count, ty, st.Peer, st.Tag,
			e.buf(st.Recv, 0), st.Count, ty, st.Peer, st.Tag,
			&status)
		return &status, err

	case "wait":
		h, err := e.request(st.Req)
		if err != nil {
			return nil, err
		}
		err = e.w.Wait(ctx, &h, &status)
		e.reqs[st.Req] = h
		return &status, err

	case "test":
		h, err := e.request(st.Req)
		if err != nil {
			return nil, err
		}
		done, err := e.w.Test(ctx, &h, &status)
		e.reqs[st.Req] = h
		if !done {
			return nil, err
		}
		return &status, err

	case "waitall":
		hs := make([]request.Handle, len(st.Reqs))
		for i, name := range st.Reqs {
			h, err := e.request(name)
			if err != nil {
				return nil, err
			}
			hs[i] = h
		}
		sts := make([]mpiwrap.Status, len(hs))
		err := e.w.Waitall(ctx, hs, sts)
		for i, name := range st.Reqs {
			e.reqs[name] = hs[i]
		}
		return worst(sts), err

	case "cancel":
		h, err := e.request(st.Req)
		if err != nil {
			return nil, err
		}
		err = e.w.Cancel(ctx, &h)
		e.reqs[st.Req] = h
		return nil, err

	case "bcast":
		return nil, e.w.Bcast(ctx, buf, st.Count, ty, st.Root)

	case "reduce":
		return nil, e.w.Reduce(ctx, buf, e.buf(st.Recv, 0), st.Count, ty, reductions[st.Reduction], st.Root)

	case "allreduce":
		return nil, e.w.Allreduce(ctx, buf, e.buf(st.Recv, 0), st.Count, ty, reductions[st.Reduction])
	}
	return nil, fmt.Errorf("unknown op %q", st.Op)
}

func (e *executor) request(name string) (request.Handle, error) {
	h, ok := e.reqs[name]
	if !ok {
		return request.Null, fmt.Errorf("request %q was never started", name)
	}
	return h, nil
}

// worst picks the first failed status of a batch, or the first one.
func worst(sts []mpiwrap.Status) *mpiwrap.Status {
	if len(sts) == 0 {
		return nil
	}
	for i := range sts {
		if sts[i].Error != mpiwrap.Success {
			return &sts[i]
		}
	}
	return &sts[0]
}
