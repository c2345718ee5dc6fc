package mpiwrap

import "fmt"

// Code is a transport result code as carried in a Status.
type Code int

const (
	Success Code = iota
	ErrTruncate
	ErrInStatus
	ErrPending
	ErrRequest
	ErrCount
	ErrRank
	ErrTag
	ErrType
	ErrOther
)

var codeNames = [...]string{
	Success:     "success",
	ErrTruncate: "truncate",
	ErrInStatus: "in_status",
	ErrPending:  "pending",
	ErrRequest:  "request",
	ErrCount:    "count",
	ErrRank:     "rank",
	ErrTag:      "tag",
	ErrType:     "type",
	ErrOther:    "other",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Wildcards for receive matching.
const (
	AnySource = -1
	AnyTag    = -1
)

// Status describes a completed receive.
type Status struct {
	Source    int
	Tag       int
	Error     Code
	Bytes     int64
	Cancelled bool
}

// SendMode selects the completion semantics of a send.
type SendMode uint8

const (
	Standard SendMode = iota
	Buffered
	Synchronous
	Ready
)

func (m SendMode) String() string {
	switch m {
	case Buffered:
		return "bsend"
	case Synchronous:
		return "ssend"
	case Ready:
		return "rsend"
	default:
		return "send"
	}
}

// Op is a reduction operator.
type Op uint8

const (
	OpSum Op = iota
	OpProd
	OpMax
	OpMin
)

func (o Op) String() string {
	switch o {
	case OpProd:
		return "prod"
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	default:
		return "sum"
	}
}

// Undefined is the index reported by an any-completion over only null requests.
const Undefined = -1
