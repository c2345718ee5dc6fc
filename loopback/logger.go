package loopback

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	logger atomic.Pointer[zap.Logger]
	nop    = zap.NewNop()
)

// Logger returns the loopback transport logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger configures the loopback transport logger. It may be called at any time;
// nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
