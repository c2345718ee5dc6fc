package datatype

import (
	"sync"

	"github.com/wippyai/mpiwrap/errors"
)

// Registry is an in-process Introspector. It builds derived datatypes,
// computes their bounds and hands out reference-counted child handles
// through Contents the way a message-passing library does.
type Registry struct {
	entries  []typeDef
	freeList []Handle
	mu       sync.RWMutex
}

type typeDef struct {
	ints      []int
	addrs     []int64
	types     []Handle
	lb        int64
	ub        int64
	align     int64
	refs      int32
	combiner  Combiner
	committed bool
	valid     bool
}

// NewRegistry creates an empty registry. Predefined handles are always valid.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make([]typeDef, 0, 32),
		freeList: make([]Handle, 0, 8),
	}
}

// Contiguous creates count consecutive copies of elem.
func (r *Registry) Contiguous(count int, elem Handle) (Handle, error) {
	if count < 0 {
		return Null, errors.InvalidInput(errors.PhaseWalk, "contiguous: negative count")
	}
	return r.create(CombinerContiguous, []int{count}, nil, []Handle{elem})
}

// Vector creates count blocks of blocklen elems, block starts stride
// elements apart.
func (r *Registry) Vector(count, blocklen, stride int, elem Handle) (Handle, error) {
	if count < 0 || blocklen < 0 {
		return Null, errors.InvalidInput(errors.PhaseWalk, "vector: negative count or blocklength")
	}
	return r.create(CombinerVector, []int{count, blocklen, stride}, nil, []Handle{elem})
}

// HVector is Vector with the stride given in bytes.
func (r *Registry) HVector(count, blocklen int, byteStride int64, elem Handle) (Handle, error) {
	if count < 0 || blocklen < 0 {
		return Null, errors.InvalidInput(errors.PhaseWalk, "hvector: negative count or blocklength")
	}
	return r.create(CombinerHVector, []int{count, blocklen}, []int64{byteStride}, []Handle{elem})
}

// Indexed creates blocks of elem at displacements measured in elem extents.
func (r *Registry) Indexed(blocklens, displs []int, elem Handle) (Handle, error) {
	if len(blocklens) != len(displs) {
		return Null, errors.InvalidInput(errors.PhaseWalk, "indexed: blocklength and displacement counts differ")
	}
	n := len(blocklens)
	ints := make([]int, 0, 2*n+1)
	ints = append(ints, n)
	ints = append(ints, blocklens...)
	ints = append(ints, displs...)
	return r.create(CombinerIndexed, ints, nil, []Handle{elem})
}

// HIndexed creates blocks of elem at byte displacements.
func (r *Registry) HIndexed(blocklens []int, displs []int64, elem Handle) (Handle, error) {
	if len(blocklens) != len(displs) {
		return Null, errors.InvalidInput(errors.PhaseWalk, "hindexed: blocklength and displacement counts differ")
	}
	ints := make([]int, 0, len(blocklens)+1)
	ints = append(ints, len(blocklens))
	ints = append(ints, blocklens...)
	return r.create(CombinerHIndexed, ints, append([]int64(nil), displs...), []Handle{elem})
}

// IndexedBlock creates equal-length blocks of elem at element displacements.
func (r *Registry) IndexedBlock(blocklen int, displs []int, elem Handle) (Handle, error) {
	ints := make([]int, 0, len(displs)+2)
	ints = append(ints, len(displs), blocklen)
	ints = append(ints, displs...)
	return r.create(CombinerIndexedBlock, ints, nil, []Handle{elem})
}

// StructField is one member of a Struct datatype.
type StructField struct {
	Count  int
	Offset int64
	Type   Handle
}

// Struct creates a heterogeneous datatype from fields at byte offsets.
func (r *Registry) Struct(fields []StructField) (Handle, error) {
	ints := make([]int, 0, len(fields)+1)
	addrs := make([]int64, 0, len(fields))
	types := make([]Handle, 0, len(fields))
	ints = append(ints, len(fields))
	for _, f := range fields {
		ints = append(ints, f.Count)
		addrs = append(addrs, f.Offset)
		types = append(types, f.Type)
	}
	return r.create(CombinerStruct, ints, addrs, types)
}

// Dup creates a copy of elem.
func (r *Registry) Dup(elem Handle) (Handle, error) {
	return r.create(CombinerDup, nil, nil, []Handle{elem})
}

// Resized creates elem with explicit lower bound and extent.
func (r *Registry) Resized(elem Handle, lb, extent int64) (Handle, error) {
	return r.create(CombinerResized, nil, []int64{lb, extent}, []Handle{elem})
}

// Commit marks a derived type ready for communication.
func (r *Registry) Commit(h Handle) error {
	if IsPredefined(h) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookupLocked(h)
	if err != nil {
		return err
	}
	d.committed = true
	return nil
}

// Committed reports whether h may be used in communication.
func (r *Registry) Committed(h Handle) bool {
	if IsPredefined(h) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, err := r.lookupLocked(h)
	return err == nil && d.committed
}

// Extent implements Introspector.
func (r *Registry) Extent(h Handle) (int64, error) {
	lb, ub, _, err := r.Bounds(h)
	if err != nil {
		return 0, err
	}
	return ub - lb, nil
}

// Bounds returns the lower bound, upper bound and alignment of h.
func (r *Registry) Bounds(h Handle) (lb, ub, align int64, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.boundsOfLocked(h)
}

// Envelope implements Introspector.
func (r *Registry) Envelope(h Handle) (Envelope, error) {
	if IsPredefined(h) {
		return Envelope{Combiner: CombinerNamed}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, err := r.lookupLocked(h)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		NumInts:  len(d.ints),
		NumAddrs: len(d.addrs),
		NumTypes: len(d.types),
		Combiner: d.combiner,
	}, nil
}

// Contents implements Introspector. Every derived child handle returned
// carries a new reference.
func (r *Registry) Contents(h Handle) (Contents, error) {
	if IsPredefined(h) {
		return Contents{}, errors.New(errors.PhaseWalk, errors.KindInvalidInput).
			Datatype(h.String()).
			Detail("named datatypes have no contents").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookupLocked(h)
	if err != nil {
		return Contents{}, err
	}
	for _, child := range d.types {
		r.retainLocked(child)
	}
	return Contents{
		Ints:  append([]int(nil), d.ints...),
		Addrs: append([]int64(nil), d.addrs...),
		Types: append([]Handle(nil), d.types...),
	}, nil
}

// Free implements Introspector. Freeing the last reference releases the
// definition and the references it holds on its children.
func (r *Registry) Free(h Handle) error {
	if IsPredefined(h) {
		return errors.New(errors.PhaseWalk, errors.KindInvalidInput).
			Datatype(h.String()).
			Detail("cannot free a named datatype").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.releaseLocked(h)
}

// Refs returns the outstanding reference count of a derived handle.
func (r *Registry) Refs(h Handle) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, err := r.lookupLocked(h)
	if err != nil {
		return 0
	}
	return int(d.refs)
}

// Live returns the number of derived datatypes still defined.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, d := range r.entries {
		if d.valid {
			count++
		}
	}
	return count
}

func (r *Registry) create(c Combiner, ints []int, addrs []int64, types []Handle) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := typeDef{
		combiner: c,
		ints:     ints,
		addrs:    addrs,
		types:    types,
		refs:     1,
		valid:    true,
	}
	if err := r.boundsLocked(&d); err != nil {
		return Null, err
	}
	for _, child := range types {
		r.retainLocked(child)
	}

	if len(r.freeList) > 0 {
		h := r.freeList[len(r.freeList)-1]
		r.freeList = r.freeList[:len(r.freeList)-1]
		r.entries[h-FirstDerived] = d
		return h, nil
	}

	r.entries = append(r.entries, d)
	return FirstDerived + Handle(len(r.entries)-1), nil
}

func (r *Registry) lookupLocked(h Handle) (*typeDef, error) {
	if h < FirstDerived || int(h-FirstDerived) >= len(r.entries) {
		return nil, errors.NotFound(errors.PhaseWalk, "datatype", h)
	}
	d := &r.entries[h-FirstDerived]
	if !d.valid {
		return nil, errors.NotFound(errors.PhaseWalk, "datatype", h)
	}
	return d, nil
}

func (r *Registry) retainLocked(h Handle) {
	if IsPredefined(h) {
		return
	}
	if d, err := r.lookupLocked(h); err == nil {
		d.refs++
	}
}

func (r *Registry) releaseLocked(h Handle) error {
	d, err := r.lookupLocked(h)
	if err != nil {
		return err
	}
	d.refs--
	if d.refs > 0 {
		return nil
	}

	children := d.types
	*d = typeDef{}
	r.freeList = append(r.freeList, h)

	for _, child := range children {
		if IsPredefined(child) {
			continue
		}
		if err := r.releaseLocked(child); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) boundsOfLocked(h Handle) (lb, ub, align int64, err error) {
	if IsPredefined(h) {
		switch {
		case h == LB || h == UB:
			return 0, 0, 1, nil
		case IsPair(h):
			return 0, pairExtent(h), Alignment(h), nil
		default:
			return 0, SizeOf(h), Alignment(h), nil
		}
	}
	d, err := r.lookupLocked(h)
	if err != nil {
		return 0, 0, 0, err
	}
	return d.lb, d.ub, d.align, nil
}

// boundsLocked computes lb/ub/align for d. Each block of bl elements at
// byte displacement disp spans [disp+lb, disp+lb+bl*extent).
func (r *Registry) boundsLocked(d *typeDef) error {
	var (
		lo, hi   int64
		seen     bool
		maxAlign int64 = 1
	)
	block := func(disp int64, bl int, elem Handle) error {
		elb, eub, ealign, err := r.boundsOfLocked(elem)
		if err != nil {
			return err
		}
		maxAlign = max(maxAlign, ealign)
		if bl <= 0 {
			return nil
		}
		start := disp + elb
		end := start + int64(bl)*(eub-elb)
		if !seen || start < lo {
			lo = start
		}
		if !seen || end > hi {
			hi = end
		}
		seen = true
		return nil
	}
	extentOf := func(h Handle) (int64, error) {
		elb, eub, _, err := r.boundsOfLocked(h)
		return eub - elb, err
	}

	var err error
	switch d.combiner {
	case CombinerContiguous:
		err = block(0, d.ints[0], d.types[0])
	case CombinerVector:
		var ext int64
		if ext, err = extentOf(d.types[0]); err == nil {
			for i := 0; i < d.ints[0] && err == nil; i++ {
				err = block(int64(i)*int64(d.ints[2])*ext, d.ints[1], d.types[0])
			}
		}
	case CombinerHVector:
		for i := 0; i < d.ints[0] && err == nil; i++ {
			err = block(int64(i)*d.addrs[0], d.ints[1], d.types[0])
		}
	case CombinerIndexed:
		n := d.ints[0]
		var ext int64
		if ext, err = extentOf(d.types[0]); err == nil {
			for i := 0; i < n && err == nil; i++ {
				err = block(int64(d.ints[1+n+i])*ext, d.ints[1+i], d.types[0])
			}
		}
	case CombinerHIndexed:
		for i := 0; i < d.ints[0] && err == nil; i++ {
			err = block(d.addrs[i], d.ints[1+i], d.types[0])
		}
	case CombinerIndexedBlock:
		var ext int64
		if ext, err = extentOf(d.types[0]); err == nil {
			for i := 0; i < d.ints[0] && err == nil; i++ {
				err = block(int64(d.ints[2+i])*ext, d.ints[1], d.types[0])
			}
		}
	case CombinerStruct:
		for i := 0; i < d.ints[0] && err == nil; i++ {
			err = block(d.addrs[i], d.ints[1+i], d.types[i])
		}
		if err == nil && seen {
			hi = lo + alignUp(hi-lo, maxAlign)
		}
	case CombinerDup:
		lo, hi, maxAlign, err = r.boundsOfLocked(d.types[0])
		seen = true
	case CombinerResized:
		_, _, maxAlign, err = r.boundsOfLocked(d.types[0])
		lo, hi = d.addrs[0], d.addrs[0]+d.addrs[1]
		seen = true
	default:
		return errors.Unsupported(errors.PhaseWalk, "registry cannot build combiner "+d.combiner.String())
	}
	if err != nil {
		return err
	}

	d.lb, d.ub, d.align = lo, hi, maxAlign
	return nil
}
