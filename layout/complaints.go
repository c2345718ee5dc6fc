package layout

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/mpiwrap/datatype"
)

// DefaultComplaints is the number of unhandled-datatype diagnostics
// emitted before the walker falls silent.
const DefaultComplaints = 3

// Complaints rate-limits diagnostics about datatypes the walker cannot
// decompose. The budget is shared by all kinds and spent once per kind,
// the first time that kind is seen.
type Complaints struct {
	remaining int
	seen      map[datatype.Combiner]bool
	mu        sync.Mutex
}

// NewComplaints creates a budget of n diagnostics.
func NewComplaints(n int) *Complaints {
	return &Complaints{remaining: n, seen: make(map[datatype.Combiner]bool)}
}

// Remaining returns how many diagnostics may still be emitted.
func (c *Complaints) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// note logs one unhandled datatype if the budget allows and reports
// whether a diagnostic was emitted.
func (c *Complaints) note(h datatype.Handle, kind datatype.Combiner) bool {
	c.mu.Lock()
	if c.remaining <= 0 || c.seen[kind] {
		c.mu.Unlock()
		return false
	}
	c.remaining--
	c.seen[kind] = true
	remaining := c.remaining
	c.mu.Unlock()

	if kind == datatype.CombinerNamed {
		Logger().Warn("walk: unhandled base type",
			zap.Stringer("datatype", h),
			zap.Int("complaints_left", remaining))
	} else {
		Logger().Warn("walk: unhandled combiner",
			zap.Stringer("combiner", kind),
			zap.Stringer("datatype", h),
			zap.Int("complaints_left", remaining))
	}
	return true
}
