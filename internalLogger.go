package gelfpipe

import (
	"log"
	"os"
	"sync/atomic"
)

var internalLogger atomic.Value

func init() {
	internalLogger.Store(log.New(os.Stderr, "[gelfpipe] ", log.LstdFlags))
}

// InternalLogger returns the Logger used for diagnostics about the forwarding
// pipeline itself: verbose tracing, and failures that must not abort a
// delivery (such as a broken verbose mirror).
func InternalLogger() *log.Logger { return internalLogger.Load().(*log.Logger) }

// SetInternalLogger makes l the internal logger.
func SetInternalLogger(l *log.Logger) {
	internalLogger.Store(l)
}
