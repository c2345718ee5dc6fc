// Package layout decomposes message-passing datatypes into the byte ranges
// they occupy in a user buffer.
//
// # Walking
//
// A Walker reads datatypes through a datatype.Introspector and calls an
// emit function once per contiguous range:
//
//	w := layout.New(reg, layout.DefaultConfig())
//	err := w.WalkArray(vec, bufAddr, count, func(r mpiwrap.Range) {
//	    checker.CheckDefined(r.Addr, r.Len)
//	})
//
// Ranges are never emitted for padding between members. Within one
// constructed node, blocks come out in ascending offset order, even when
// displacements are declared out of order or a stride is negative.
//
// # Fast Path
//
// count copies of a 1, 2, 4 or 8 byte leaf at a base aligned to that size
// are emitted as a single range. Everything else is walked per element at
// base + i*extent.
//
// # Supported Constructors
//
//	named          leaf, value+index pair, bound marker
//	contiguous     count * elem
//	vector         count blocks, stride in elements
//	hvector        count blocks, stride in bytes
//	indexed        blocks at element displacements
//	hindexed       blocks at byte displacements
//	struct         heterogeneous blocks at byte displacements
//
// Other constructors are skipped. The first sighting of each kind is
// reported through the package logger until a shared Complaints budget
// runs out. With Config.Strict set
// they abort the walk with a fatal error instead.
//
// # Child Handles
//
// Every derived child handle obtained from Contents is released once, on
// success and on every error path.
package layout
