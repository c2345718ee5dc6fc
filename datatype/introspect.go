package datatype

// Envelope describes the shape of a datatype's constructor arguments.
type Envelope struct {
	NumInts  int
	NumAddrs int
	NumTypes int
	Combiner Combiner
}

// Contents holds the constructor arguments of a derived datatype, laid out
// the way the message-passing standard returns them from get_contents:
//
//	contiguous     ints[count]                     types[elem]
//	vector         ints[count, blocklen, stride]   types[elem]
//	hvector        ints[count, blocklen]           addrs[stride]   types[elem]
//	indexed        ints[count, bl..., disp...]     types[elem]
//	hindexed       ints[count, bl...]              addrs[disp...]  types[elem]
//	indexed_block  ints[count, blocklen, disp...]  types[elem]
//	struct         ints[count, bl...]              addrs[disp...]  types[t...]
//	dup                                            types[elem]
//	resized                                        addrs[lb, ext]  types[elem]
//
// Derived handles in Types are new references: the caller releases each
// one with Free once it is done with it.
type Contents struct {
	Ints  []int
	Addrs []int64
	Types []Handle
}

// Introspector is the type-introspection collaborator. It owns datatype
// handles; the layout walker only reads them and releases the child
// references it obtained through Contents.
type Introspector interface {
	// Extent returns the byte distance between successive occurrences of h.
	Extent(h Handle) (int64, error)

	// Envelope returns the combiner and argument counts of h.
	Envelope(h Handle) (Envelope, error)

	// Contents returns the constructor arguments of a derived h.
	Contents(h Handle) (Contents, error)

	// Free releases one reference to a derived h.
	Free(h Handle) error
}

// Disposable reports whether a handle obtained from Contents must be
// released. Named leaves and the fixed value+index pairs never are.
func Disposable(h Handle) bool {
	return !IsPredefined(h)
}
