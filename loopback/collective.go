package loopback

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
)

// Bcast copies the root's buffer into every other rank's buffer.
func (r *Rank) Bcast(ctx context.Context, buf uintptr, count int, ty datatype.Handle, root int) error {
	if err := r.world.checkRank(root, false); err != nil {
		return err
	}
	if r.id != root {
		h, err := r.irecv(&posted{source: root, tag: tagBcast, buf: buf, count: count, ty: ty})
		if err != nil {
			return err
		}
		return r.Wait(ctx, &h, nil)
	}
	for dest := range r.world.ranks {
		if dest == root {
			continue
		}
		if _, err := r.send(mpiwrap.Standard, buf, count, ty, dest, tagBcast); err != nil {
			return err
		}
	}
	return nil
}

// Reduce combines count elements of every rank's send buffer with op into
// the root's receive buffer. ty must be a numeric named leaf.
func (r *Rank) Reduce(ctx context.Context, sbuf, rbuf uintptr, count int, ty datatype.Handle, op mpiwrap.Op, root int) error {
	if err := r.world.checkRank(root, false); err != nil {
		return err
	}
	k, ok := numericKinds[ty]
	if !ok {
		return errors.New(errors.PhaseTransport, errors.KindUnsupported).
			Datatype(ty.String()).
			Detail("reduction over non-numeric datatype").
			Build()
	}

	if r.id != root {
		_, err := r.send(mpiwrap.Standard, sbuf, count, ty, root, tagReduce)
		return err
	}

	w := r.world
	w.mu.Lock()
	acc, err := w.packLocked(ty, sbuf, count)
	w.mu.Unlock()
	if err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindInvalidData, err, "pack reduce buffer")
	}

	// contributions are folded in rank order
	for src := range w.ranks {
		if src == root {
			continue
		}
		h, err := r.irecv(&posted{source: src, tag: tagReduce, raw: true})
		if err != nil {
			return err
		}
		q, err := r.lookup(h)
		if err != nil {
			return err
		}
		if err := r.Wait(ctx, &h, nil); err != nil {
			return err
		}
		if len(q.data) != len(acc) {
			return errors.Truncated(errors.PhaseTransport, len(q.data), len(acc))
		}
		combine(acc, q.data, k, op)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, _, err := w.unpackLocked(acc, ty, rbuf, count); err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindInvalidData, err, "unpack reduce result")
	}
	return nil
}

// Allreduce is Reduce to rank 0 followed by a broadcast of the result.
func (r *Rank) Allreduce(ctx context.Context, sbuf, rbuf uintptr, count int, ty datatype.Handle, op mpiwrap.Op) error {
	if err := r.Reduce(ctx, sbuf, rbuf, count, ty, op, 0); err != nil {
		return err
	}
	return r.Bcast(ctx, rbuf, count, ty, 0)
}

type numeric uint8

const (
	i32 numeric = iota
	i64
	u32
	u64
	f32
	f64
)

var numericKinds = map[datatype.Handle]numeric{
	datatype.Int:              i32,
	datatype.Int32:            i32,
	datatype.Integer:          i32,
	datatype.Integer4:         i32,
	datatype.LongLong:         i64,
	datatype.Int64:            i64,
	datatype.Integer8:         i64,
	datatype.Unsigned:         u32,
	datatype.Uint32:           u32,
	datatype.UnsignedLongLong: u64,
	datatype.Uint64:           u64,
	datatype.Float:            f32,
	datatype.Real:             f32,
	datatype.Real4:            f32,
	datatype.Double:           f64,
	datatype.DoublePrecision:  f64,
	datatype.Real8:            f64,
}

// combine folds src into acc element by element. Values are little-endian,
// the byte order of WebAssembly linear memory.
func combine(acc, src []byte, k numeric, op mpiwrap.Op) {
	le := binary.LittleEndian
	switch k {
	case i32:
		for i := 0; i+4 <= len(acc); i += 4 {
			v := fold(int32(le.Uint32(acc[i:])), int32(le.Uint32(src[i:])), op)
			le.PutUint32(acc[i:], uint32(v))
		}
	case i64:
		for i := 0; i+8 <= len(acc); i += 8 {
			v := fold(int64(le.Uint64(acc[i:])), int64(le.Uint64(src[i:])), op)
			le.PutUint64(acc[i:], uint64(v))
		}
	case u32:
		for i := 0; i+4 <= len(acc); i += 4 {
			le.PutUint32(acc[i:], fold(le.Uint32(acc[i:]), le.Uint32(src[i:]), op))
		}
	case u64:
		for i := 0; i+8 <= len(acc); i += 8 {
			le.PutUint64(acc[i:], fold(le.Uint64(acc[i:]), le.Uint64(src[i:]), op))
		}
	case f32:
		for i := 0; i+4 <= len(acc); i += 4 {
			v := fold(math.Float32frombits(le.Uint32(acc[i:])), math.Float32frombits(le.Uint32(src[i:])), op)
			le.PutUint32(acc[i:], math.Float32bits(v))
		}
	case f64:
		for i := 0; i+8 <= len(acc); i += 8 {
			v := fold(math.Float64frombits(le.Uint64(acc[i:])), math.Float64frombits(le.Uint64(src[i:])), op)
			le.PutUint64(acc[i:], math.Float64bits(v))
		}
	}
}

type number interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func fold[T number](a, b T, op mpiwrap.Op) T {
	switch op {
	case mpiwrap.OpProd:
		return a * b
	case mpiwrap.OpMax:
		return max(a, b)
	case mpiwrap.OpMin:
		return min(a, b)
	default:
		return a + b
	}
}
