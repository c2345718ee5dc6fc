package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseWalk      Phase = "walk"      // datatype decomposition
	PhaseTrack     Phase = "track"     // pending request bookkeeping
	PhaseComplete  Phase = "complete"  // completion resolution
	PhaseTransport Phase = "transport" // underlying message passing
	PhaseCheck     Phase = "check"     // host memory validation
	PhaseConfig    Phase = "config"    // options and scenarios
	PhaseMap       Phase = "map"       // WIT to datatype mapping
	PhaseProbe     Phase = "probe"     // platform size probing
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupported  Kind = "unsupported"
	KindInvalidData  Kind = "invalid_data"
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindOverflow     Kind = "overflow"
	KindTruncated    Kind = "truncated"
	KindInStatus     Kind = "error_in_status"
	KindCanceled     Kind = "canceled"
	KindFatal        Kind = "fatal"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Datatype string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Datatype != "" {
		b.WriteString(": datatype ")
		b.WriteString(e.Datatype)
	}

	if e.Detail != "" {
		if e.Datatype != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the descriptor path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Datatype sets the datatype name
func (b *Builder) Datatype(t string) *Builder {
	b.err.Datatype = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, key any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, key),
		Value:  key,
	}
}

// OutOfBounds creates an address range error
func OutOfBounds(phase Phase, addr, length, limit uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%#x, +%d) exceeds %#x", addr, length, limit),
		Value:  addr,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// Truncated creates a message truncation error
func Truncated(phase Phase, got, capacity int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTruncated,
		Detail: fmt.Sprintf("message of %d bytes truncated to %d", got, capacity),
		Value:  got,
	}
}

// Fatal creates an error for conditions that must abort the caller
func Fatal(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFatal,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Transport wraps an error returned by the underlying message-passing layer
func Transport(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindInvalidData,
		Detail: op,
		Cause:  cause,
	}
}

// IsKind reports whether err or any error it wraps is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		if e == nil {
			return false
		}
		if e.Kind == kind {
			return true
		}
		return IsKind(e.Cause, kind)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsKind(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsKind(e.Unwrap(), kind)
	}
	return false
}
