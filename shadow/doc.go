// Package shadow implements a byte-granular memory-safety checker.
//
// Every byte of the shadowed span is in one of three states:
//
//	no access   reading or writing it is a violation
//	undefined   writable, but its contents are meaningless
//	defined     writable and readable
//
// Memory implements mpiwrap.Checker, so the wrapper can be exercised
// against it in-process. Violations are kept as Reports and logged.
package shadow
