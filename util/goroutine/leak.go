package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks fails t if, once the test and its cleanups finish, more
// goroutines are running than when it was called. Call it first.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		if WaitForCount(before, 5*time.Second, 20*time.Millisecond) {
			return
		}
		current := runtime.NumGoroutine()
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("goroutine leak: started with %d, ended with %d\n%s", before, current, buf[:n])
	})
}

// WaitForCount polls until at most target goroutines run or timeout passes
func WaitForCount(target int, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}
