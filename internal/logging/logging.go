// Package logging provides the process-wide structured logger.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	global *zap.SugaredLogger
)

// Init constructs the process-wide logger. Safe to call multiple times;
// only the first call takes effect. dev selects a human-readable encoder.
func Init(dev bool) *zap.SugaredLogger {
	once.Do(func() {
		var base *zap.Logger
		var err error
		if dev {
			base, err = zap.NewDevelopment()
		} else {
			base, err = zap.NewProduction()
		}
		if err != nil {
			base = zap.NewNop()
		}
		global = base.Sugar()
	})
	return global
}

// L returns the process-wide logger, initializing a production logger if
// Init was never called.
func L() *zap.SugaredLogger {
	if global == nil {
		return Init(false)
	}
	return global
}

// Sync flushes buffered log entries. Call at process exit; errors are
// expected (and ignored) when stderr is a non-syncable terminal.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
