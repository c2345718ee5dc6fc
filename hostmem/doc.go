// Package hostmem provides simulated address spaces for exercising the
// wrapper in-process.
//
// Slice is a plain byte slice. Linear adapts a wazero linear memory, so
// buffers handed to the wrapper can live in real WebAssembly memory:
//
//	mem, err := hostmem.NewWasm(ctx, 4) // 4 pages, 256 KiB
//	if err != nil {
//	    return err
//	}
//	defer mem.Close(ctx)
//
// Addresses are offsets from the start of the space.
package hostmem
