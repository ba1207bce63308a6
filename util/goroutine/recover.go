// Package goroutine runs background work so that a panic is logged with
// its stack instead of taking the server down.
package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// stackBufferSize bounds the captured stack trace
const stackBufferSize = 4096

// Recover must be deferred directly. It logs a panic under name; with a
// nil logger the report goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, buf[:n])
		return
	}
	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", string(buf[:n]))
}

// Go runs fn in a goroutine tracked by wg. A panic in fn is recovered and
// logged, and wg is released either way.
func Go(wg *sync.WaitGroup, name string, logger *zap.SugaredLogger, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer Recover(name, logger)
		fn()
	}()
}
