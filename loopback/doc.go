// Package loopback is an in-process message-passing transport.
//
// A World holds N ranks that share one hostmem.Space. Each Rank provides
// the point-to-point, completion and collective primitives the wrapper
// layer expects, so whole programs can run inside one process:
//
//	reg := datatype.NewRegistry()
//	world := loopback.NewWorld(2, hostmem.NewSlice(1<<16), reg)
//	r0, r1 := world.Rank(0), world.Rank(1)
//
// # Messages
//
// Sends pack the buffer by walking its datatype and deliver a copy. A
// message goes to the first posted receive that matches its source and tag
// (AnySource and AnyTag are wildcards) or waits in an unexpected queue.
// Messages from one source are matched in the order they were sent.
// Receives scatter the packed bytes over their own datatype; bytes beyond
// the receive's capacity are dropped and the status reports ErrTruncate.
//
// Only synchronous sends wait for a match. Everything else completes as
// soon as the data has been copied.
//
// # Collectives
//
// Bcast, Reduce and Allreduce are built on point-to-point messages with
// reserved negative tags. Reductions support the int32, int64, uint32,
// uint64, float32 and float64 named leaves; values are little-endian.
package loopback
