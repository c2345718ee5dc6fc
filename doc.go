// Package mpiwrap provides the memory-safety core of a message-passing wrapper.
//
// For every intercepted message-passing call the wrapper must work out which
// bytes of the caller's buffer are about to be read or written, validate them
// before the real call and, for asynchronous receives completed later, mark
// only the bytes that were actually transferred as defined.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	mpiwrap/          Root package with Range and the host Checker interface
//	├── datatype/     Datatype handles, named sizes, introspection, registry
//	├── layout/       Recursive derived-datatype walker emitting byte ranges
//	├── request/      Mutex-guarded table of outstanding receive requests
//	├── completion/   Resolves completed requests and marks received data
//	├── wrap/         Wrappers around the transport's point-to-point, completion
//	│                 and collective primitives
//	├── hostmem/      Byte-slice and wazero linear-memory address spaces
//	├── wasm/         Encoder for the memory-only modules hostmem instantiates
//	├── shadow/       Byte-granular addressable/defined shadow checker
//	├── loopback/     In-process multi-rank transport
//	├── witmap/       Derives datatypes from WIT records and tuples
//	├── errors/       Structured error types for debugging
//	└── cmd/mpicheck/ Runs YAML scenarios over the loopback transport
//
// # Quick Start
//
//	reg := datatype.NewRegistry()
//	vec, _ := reg.Vector(3, 2, 4, datatype.Int)
//	_ = reg.Commit(vec)
//
//	w := wrap.New(transport, checker, reg, wrap.DefaultConfig())
//	req, err := w.Irecv(ctx, buf, 1, vec, src, tag)
//	...
//	err = w.Wait(ctx, &req, &status)
//	// only the received prefix of buf is now defined
//
// # Thread Safety
//
// The walker and resolver are stateless apart from the complaint budget.
// The request table is safe for concurrent use; transport calls are never
// made while it is locked.
package mpiwrap
