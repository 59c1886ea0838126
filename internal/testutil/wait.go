package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition until it returns true or timeout expires.
//
// Usage:
//
//	testutil.WaitFor(t, time.Second, "panel to connect", func() bool {
//	    return mgr.Status("panel/p1").State == session.StateConnected
//	})
func WaitFor(t testing.TB, timeout time.Duration, message string, condition func() bool) {
	t.Helper()

	if condition() {
		return
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s (waited %v)", message, timeout)
		}
	}
}
