package layout

import (
	"go.uber.org/multierr"

	"github.com/wippyai/mpiwrap/datatype"
)

// childGuard owns the child handles obtained from one Contents call and
// releases each disposable one exactly once.
type childGuard struct {
	types    datatype.Introspector
	children []datatype.Handle
	released []bool
	err      error
}

func newChildGuard(types datatype.Introspector, children []datatype.Handle) *childGuard {
	return &childGuard{
		types:    types,
		children: children,
		released: make([]bool, len(children)),
	}
}

// release frees child i now if it is disposable and not yet released.
func (g *childGuard) release(i int) {
	if g.released[i] {
		return
	}
	g.released[i] = true
	if !datatype.Disposable(g.children[i]) {
		return
	}
	g.err = multierr.Append(g.err, g.types.Free(g.children[i]))
}

// close releases whatever is still held and folds release failures into err.
func (g *childGuard) close(err *error) {
	for i := range g.children {
		g.release(i)
	}
	*err = multierr.Append(*err, g.err)
}
