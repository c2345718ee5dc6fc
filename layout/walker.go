package layout

import (
	"cmp"
	"fmt"
	"slices"
	"unsafe"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
)

const wordSize = int64(unsafe.Sizeof(uintptr(0)))

// Config configures a Walker.
type Config struct {
	// Complaints is the shared diagnostic budget. A nil value gets a fresh
	// budget of DefaultComplaints.
	Complaints *Complaints

	// Strict turns unhandled datatypes into fatal errors.
	Strict bool
}

// DefaultConfig returns the default walker configuration.
func DefaultConfig() Config {
	return Config{}
}

// Walker decomposes derived datatypes into the byte ranges they occupy.
// Safe for concurrent use.
type Walker struct {
	types      datatype.Introspector
	complaints *Complaints
	strict     bool
}

// New creates a Walker reading datatypes from types.
func New(types datatype.Introspector, cfg Config) *Walker {
	c := cfg.Complaints
	if c == nil {
		c = NewComplaints(DefaultComplaints)
	}
	return &Walker{
		types:      types,
		complaints: c,
		strict:     cfg.Strict,
	}
}

// Introspector returns the datatype source the walker reads from.
func (w *Walker) Introspector() datatype.Introspector {
	return w.types
}

// Complaints returns the walker's diagnostic budget.
func (w *Walker) Complaints() *Complaints {
	return w.complaints
}

// WalkArray emits the ranges of count consecutive occurrences of h
// starting at base.
func (w *Walker) WalkArray(h datatype.Handle, base uintptr, count int, emit mpiwrap.EmitFunc) error {
	if count <= 0 {
		return nil
	}

	// Flat buffers of power-of-two primitives are painted in one go.
	if size := datatype.SizeOf(h); isFastSize(size) && int64(base)&(size-1) == 0 {
		emit(mpiwrap.Range{Addr: base, Len: uintptr(int64(count) * size)})
		return nil
	}

	ext, err := w.types.Extent(h)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if err := w.Walk(h, offset(base, int64(i)*ext), emit); err != nil {
			return err
		}
	}
	return nil
}

// Walk emits the ranges of a single occurrence of h at base. Within one
// constructed node, blocks are emitted in ascending offset order whatever
// order their displacements or stride give.
func (w *Walker) Walk(h datatype.Handle, base uintptr, emit mpiwrap.EmitFunc) (err error) {
	env, err := w.types.Envelope(h)
	if err != nil {
		return err
	}

	switch env.Combiner {
	case datatype.CombinerNamed:
		return w.walkNamed(h, base, emit)
	case datatype.CombinerContiguous,
		datatype.CombinerVector,
		datatype.CombinerHVector,
		datatype.CombinerIndexed,
		datatype.CombinerHIndexed,
		datatype.CombinerStruct:
	default:
		return w.unhandled(h, env.Combiner)
	}

	c, err := w.types.Contents(h)
	if err != nil {
		return err
	}
	g := newChildGuard(w.types, c.Types)
	defer g.close(&err)

	if err := checkEnvelope(h, env, c); err != nil {
		return err
	}

	switch env.Combiner {
	case datatype.CombinerContiguous:
		return w.WalkArray(c.Types[0], base, c.Ints[0], emit)

	case datatype.CombinerVector:
		count, blocklen, stride := c.Ints[0], c.Ints[1], c.Ints[2]
		ext, err := w.types.Extent(c.Types[0])
		if err != nil {
			return err
		}
		return w.walkStrided(c.Types[0], base, count, blocklen, int64(stride)*ext, emit)

	case datatype.CombinerHVector:
		return w.walkStrided(c.Types[0], base, c.Ints[0], c.Ints[1], c.Addrs[0], emit)

	case datatype.CombinerIndexed:
		n := c.Ints[0]
		ext, err := w.types.Extent(c.Types[0])
		if err != nil {
			return err
		}
		offs := make([]int64, n)
		for i := range offs {
			offs[i] = int64(c.Ints[1+n+i]) * ext
		}
		for _, i := range ascending(offs) {
			if err := w.WalkArray(c.Types[0], offset(base, offs[i]), c.Ints[1+i], emit); err != nil {
				return err
			}
		}
		return nil

	case datatype.CombinerHIndexed:
		for _, i := range ascending(c.Addrs) {
			if err := w.WalkArray(c.Types[0], offset(base, c.Addrs[i]), c.Ints[1+i], emit); err != nil {
				return err
			}
		}
		return nil

	default: // struct
		for _, i := range ascending(c.Addrs) {
			if err := w.WalkArray(c.Types[i], offset(base, c.Addrs[i]), c.Ints[1+i], emit); err != nil {
				return err
			}
			g.release(i)
		}
		return nil
	}
}

// walkStrided emits count blocks whose starts are step bytes apart,
// lowest address first.
func (w *Walker) walkStrided(elem datatype.Handle, base uintptr, count, blocklen int, step int64, emit mpiwrap.EmitFunc) error {
	for k := 0; k < count; k++ {
		i := k
		if step < 0 {
			i = count - 1 - k
		}
		if err := w.WalkArray(elem, offset(base, int64(i)*step), blocklen, emit); err != nil {
			return err
		}
	}
	return nil
}

// ascending returns the indices of offs ordered by offset. Equal offsets
// keep their declared order.
func ascending(offs []int64) []int {
	idx := make([]int, len(offs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(offs[a], offs[b])
	})
	return idx
}

func (w *Walker) walkNamed(h datatype.Handle, base uintptr, emit mpiwrap.EmitFunc) error {
	if size := datatype.SizeOf(h); size > 0 {
		emit(mpiwrap.Range{Addr: base, Len: uintptr(size)})
		return nil
	}
	if parts, ok := datatype.PairParts(h); ok {
		for _, p := range parts {
			emit(mpiwrap.Range{Addr: offset(base, p.Offset), Len: uintptr(p.Size)})
		}
		return nil
	}
	if h == datatype.LB || h == datatype.UB {
		return nil
	}
	return w.unhandled(h, datatype.CombinerNamed)
}

func (w *Walker) unhandled(h datatype.Handle, kind datatype.Combiner) error {
	w.complaints.note(h, kind)
	if !w.strict {
		return nil
	}
	return errors.New(errors.PhaseWalk, errors.KindFatal).
		Datatype(h.String()).
		Detail("unhandled combiner %s, strict checking selected", kind).
		Cause(errors.Unsupported(errors.PhaseWalk, "combiner "+kind.String())).
		Build()
}

// Size returns the number of bytes one occurrence of h actually occupies,
// excluding padding and anything the walker could not decompose.
func (w *Walker) Size(h datatype.Handle) (int64, error) {
	var total int64
	err := w.WalkArray(h, 0, 1, func(r mpiwrap.Range) {
		total += int64(r.Len)
	})
	return total, err
}

// Collect returns the ranges of count occurrences of h at base.
func (w *Walker) Collect(h datatype.Handle, base uintptr, count int) ([]mpiwrap.Range, error) {
	var out []mpiwrap.Range
	err := w.WalkArray(h, base, count, func(r mpiwrap.Range) {
		out = append(out, r)
	})
	return out, err
}

func isFastSize(size int64) bool {
	switch size {
	case 1, 2, 4, 8:
		return size <= wordSize
	}
	return false
}

func offset(base uintptr, off int64) uintptr {
	return base + uintptr(off)
}

// checkEnvelope validates that the argument counts agree with the combiner.
func checkEnvelope(h datatype.Handle, env datatype.Envelope, c datatype.Contents) error {
	if len(c.Ints) != env.NumInts || len(c.Addrs) != env.NumAddrs || len(c.Types) != env.NumTypes {
		return badEnvelope(h, env, "contents disagree with envelope")
	}

	ok := true
	switch env.Combiner {
	case datatype.CombinerContiguous:
		ok = env.NumInts == 1 && env.NumAddrs == 0 && env.NumTypes == 1
	case datatype.CombinerVector:
		ok = env.NumInts == 3 && env.NumAddrs == 0 && env.NumTypes == 1
	case datatype.CombinerHVector:
		ok = env.NumInts == 2 && env.NumAddrs == 1 && env.NumTypes == 1
	case datatype.CombinerIndexed:
		ok = env.NumAddrs == 0 && env.NumTypes == 1 && env.NumInts > 0 &&
			env.NumInts == 2*c.Ints[0]+1
	case datatype.CombinerHIndexed:
		ok = env.NumTypes == 1 && env.NumInts > 0 &&
			env.NumInts == c.Ints[0]+1 && env.NumAddrs == c.Ints[0]
	case datatype.CombinerStruct:
		ok = env.NumInts > 0 && env.NumInts == c.Ints[0]+1 &&
			env.NumAddrs == env.NumInts-1 && env.NumTypes == env.NumInts-1
	}
	if !ok {
		return badEnvelope(h, env, fmt.Sprintf("malformed %s envelope", env.Combiner))
	}
	return nil
}

func badEnvelope(h datatype.Handle, env datatype.Envelope, detail string) error {
	return errors.New(errors.PhaseWalk, errors.KindInvalidData).
		Datatype(h.String()).
		Value(env).
		Detail("%s (ints=%d addrs=%d types=%d)", detail, env.NumInts, env.NumAddrs, env.NumTypes).
		Build()
}
