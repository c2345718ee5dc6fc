// Package request tracks asynchronous receives between issue and completion.
//
// A receive posted with a non-blocking call writes its buffer at some later
// point. The wrapper layer records the buffer, element count and datatype
// here when the call returns and looks the entry up again when a wait or
// test reports the request done:
//
//	tab := request.NewTable(0)
//	tab.Add(h, buf, 10, datatype.Int)
//	...
//	if p, ok := tab.Find(h); ok {
//	    // mark the received prefix of p.Buffer defined
//	    tab.Delete(h)
//	}
//
// The number of concurrently outstanding requests is small, so the table is
// a linear run of slots rather than a map. Freed slots are reused before
// the table grows.
package request
