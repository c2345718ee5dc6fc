// Package errors provides structured error types for the mpiwrap module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: descriptor path, datatype name, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseWalk, errors.KindInvalidData).
//		Path("struct", "field[2]").
//		Datatype("vector").
//		Detail("envelope reports %d ints, want 3", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unsupported(errors.PhaseWalk, "combiner darray")
//	err := errors.OutOfBounds(errors.PhaseCheck, addr, n, limit)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
