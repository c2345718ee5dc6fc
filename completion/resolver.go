package completion

import (
	"go.uber.org/multierr"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/layout"
	"github.com/wippyai/mpiwrap/request"
)

// Counter reports how many whole elements of ty a completed receive
// actually transferred.
type Counter interface {
	Count(st *mpiwrap.Status, ty datatype.Handle) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(st *mpiwrap.Status, ty datatype.Handle) (int, error)

func (f CounterFunc) Count(st *mpiwrap.Status, ty datatype.Handle) (int, error) {
	return f(st, ty)
}

// Outcome says what MaybeComplete did with a handle.
type Outcome uint8

const (
	// Skipped means the handle was not a newly completed tracked request.
	Skipped Outcome = iota
	// Marked means the received prefix was marked defined and the entry retired.
	Marked
	// Retired means the entry was retired without marking because the
	// transferred count was unavailable.
	Retired
)

func (o Outcome) String() string {
	switch o {
	case Marked:
		return "marked"
	case Retired:
		return "retired"
	default:
		return "skipped"
	}
}

// Resolver retires completed receives and marks the bytes they wrote.
type Resolver struct {
	table   *request.Table
	walker  *layout.Walker
	checker mpiwrap.Checker
	counter Counter
}

// New creates a Resolver over table.
func New(table *request.Table, walker *layout.Walker, checker mpiwrap.Checker, counter Counter) *Resolver {
	return &Resolver{
		table:   table,
		walker:  walker,
		checker: checker,
		counter: counter,
	}
}

// Table returns the request table the resolver retires entries from.
func (r *Resolver) Table() *request.Table {
	return r.table
}

// MaybeComplete inspects one request handle before and after a wait or
// test. A handle that was live before and is null after is newly complete;
// if it is tracked, the elements it actually received are marked defined
// and its entry is retired. When authoritative is set, a status reporting
// an error vetoes completion.
//
// The returned error is non-nil only when marking failed, which happens
// under strict walking. The entry is retired regardless.
func (r *Resolver) MaybeComplete(authoritative bool, before, after request.Handle, st *mpiwrap.Status) (Outcome, error) {
	if before == request.Null || after != request.Null {
		return Skipped, nil
	}
	if authoritative && st != nil && st.Error != mpiwrap.Success {
		return Skipped, nil
	}

	p, ok := r.table.Find(before)
	if !ok {
		return Skipped, nil
	}
	defer r.table.Delete(before)

	n, err := r.count(st, p.Type)
	if err != nil {
		return Retired, nil
	}

	err = r.walker.WalkArray(p.Type, p.Buffer, n, func(rg mpiwrap.Range) {
		r.checker.MarkDefinedIfAddressable(rg.Addr, rg.Len)
	})
	if err != nil {
		return Marked, errors.Wrap(errors.PhaseComplete, errors.KindFatal, err, "marking received data")
	}
	return Marked, nil
}

func (r *Resolver) count(st *mpiwrap.Status, ty datatype.Handle) (int, error) {
	if st == nil {
		return 0, errors.InvalidInput(errors.PhaseComplete, "no status to count from")
	}
	return r.counter.Count(st, ty)
}

// Batch applies MaybeComplete to every index of a batch wait or test.
// before is the snapshot taken ahead of the call, after the handles the
// call left behind. statuses may be shorter than the handle arrays; missing
// entries count as unavailable.
func (r *Resolver) Batch(authoritative bool, before, after []request.Handle, statuses []mpiwrap.Status) ([]Outcome, error) {
	if len(before) != len(after) {
		return nil, errors.InvalidInput(errors.PhaseComplete, "handle snapshot and result differ in length")
	}

	out := make([]Outcome, len(before))
	var errs error
	for i := range before {
		var st *mpiwrap.Status
		if i < len(statuses) {
			st = &statuses[i]
		}
		o, err := r.MaybeComplete(authoritative, before[i], after[i], st)
		out[i] = o
		errs = multierr.Append(errs, err)
	}
	return out, errs
}
