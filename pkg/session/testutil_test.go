package session_test

import (
	"testing"
	"time"
)

// waitFor polls condition every tick until it returns true or timeout
// expires. This replaces time.Sleep in tests to provide proper
// synchronization with background goroutines.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}
