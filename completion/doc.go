// Package completion decides when an asynchronous receive has finished and
// marks only the bytes it actually delivered.
//
// A request is newly complete when its handle was live before a wait or
// test and is null afterwards. Batch calls overwrite the caller's handle
// array, so the wrapper snapshots it with request.Table.CloneHandles first
// and passes both arrays to Batch.
//
// The transferred element count comes from the status, not from the count
// the receive was posted with:
//
//	posted:   Irecv(buf, 10, Int)        -> 40 bytes addressable
//	received: status says 24 bytes      -> 6 elements
//	marked:   [buf, buf+24) defined
//
// An entry is retired whenever the handle is recognized as a tracked,
// newly completed request, even if the count cannot be determined.
package completion
