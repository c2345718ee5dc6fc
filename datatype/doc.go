// Package datatype models derived-datatype descriptors and the
// type-introspection boundary the layout walker consumes.
//
// # Handles
//
// A datatype is referenced by a Handle. Predefined handles (Int, Double,
// the value+index pairs such as DoubleInt, and the LB/UB markers) are fixed;
// constructed handles are created by an Introspector such as Registry:
//
//	reg := datatype.NewRegistry()
//	row, _ := reg.Vector(3, 2, 4, datatype.Int)
//	rec, _ := reg.Struct([]datatype.StructField{
//	    {Count: 1, Offset: 0, Type: datatype.Double},
//	    {Count: 1, Offset: 8, Type: row},
//	})
//
// # Sizes
//
// SizeOf returns the intrinsic size of a named leaf. The size of a long
// double image is platform dependent and is probed once per process by
// storing a value into a sentinel-filled scratch buffer.
//
// # Ownership
//
// Contents hands out new references to derived children. Callers release
// them with Free; Disposable tells which handles need it.
package datatype
