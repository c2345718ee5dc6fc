// Package witmap derives datatypes from WIT types.
//
// A component exchanging records with a message-passing peer describes
// the buffer once in WIT. The Builder turns that description into the
// datatype the walker understands, using Canonical ABI layout rules:
//   - Primitives map to named leaves of the same width (char is a uint32)
//   - Records and tuples become structs, fields aligned to their own size
//     and the total padded to the largest alignment
//   - Enums become the unsigned leaf of their discriminant width
//   - Flags become one unsigned leaf, or a contiguous run of uint32 words
//     beyond 64 members
//
// Types whose memory form holds pointers or a discriminated payload
// (strings, lists, variants, options, results, handles) are rejected with
// errors.KindUnsupported.
//
//	b := witmap.New(reg)
//	defer b.Release()
//	ty, err := b.Build(recordType)
package witmap
