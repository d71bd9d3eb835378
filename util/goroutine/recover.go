// Package goroutine holds helpers for the long-lived goroutines of the
// detector, the sink workers and the event source.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"go.uber.org/zap"
)

// StackTraceBufferSize bounds the stack captured for a recovered panic
const StackTraceBufferSize = 8192

// Recover must be deferred directly. It stops a panic from taking the
// process down, counts it under name and logs it with the stack. A nil
// logger writes to stderr instead.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, StackTraceBufferSize)
	stack := string(buf[:runtime.Stack(buf, false)])
	metrics.GoroutinePanics.WithLabelValues(name).Inc()

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stack)
		return
	}
	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", stack)
}
